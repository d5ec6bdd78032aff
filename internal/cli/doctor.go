package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"plugin-jobs/internal/config"
	"plugin-jobs/internal/journal"
	"plugin-jobs/internal/logger"
	"plugin-jobs/internal/plugin"
	"plugin-jobs/internal/registry"
	"plugin-jobs/internal/runstore"
	"plugin-jobs/internal/ytdlp"
)

type doctorCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type doctorResult struct {
	OK     bool          `json:"ok"`
	Checks []doctorCheck `json:"checks"`
}

func (r *doctorResult) add(name string, err error, okMsg string) {
	c := doctorCheck{Name: name, OK: err == nil, Message: okMsg}
	if err != nil {
		c.Message = err.Error()
		r.OK = false
	}
	r.Checks = append(r.Checks, c)
}

func newDoctorCmd(a *app) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run dependency and filesystem preflight checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res := runDoctorChecks(a.settings, a.log)
			if jsonOut {
				if err := printJSON(a.out, res); err != nil {
					return err
				}
			} else {
				for _, c := range res.Checks {
					status := "ok"
					if !c.OK {
						status = "fail"
					}
					fmt.Fprintf(a.out, "%s: %s (%s)\n", c.Name, status, c.Message)
				}
			}
			if !res.OK {
				return errors.New("doctor checks failed")
			}
			if !jsonOut {
				fmt.Fprintln(a.out, "doctor: all checks passed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print JSON output")
	return cmd
}

func runDoctorChecks(s config.Settings, log logger.Logger) doctorResult {
	res := doctorResult{OK: true}

	deps := ytdlp.DependencyStatus()
	res.add("yt-dlp", foundErr(deps.YTDLPFound, ytdlp.Program), deps.YTDLPPath)
	res.add("ffmpeg", foundErr(deps.FFmpegFound, ytdlp.FFmpeg), deps.FFmpegPath)
	res.add("ffprobe", foundErr(deps.FFprobeFound, ytdlp.FFprobe), deps.FFprobePath)

	runtime, err := ytdlp.CheckJSRuntime(s.JSRuntime)
	res.add("js_runtime", err, runtime)

	for _, prog := range s.AllowedPrograms {
		path, err := exec.LookPath(prog)
		if err != nil {
			err = fmt.Errorf("allowed program %s not found on PATH", prog)
		}
		res.add("program "+prog, err, path)
	}

	plugins, err := config.LoadPlugins(s.PluginsFile)
	if err == nil {
		_, err = plugin.NewManager(plugins, registry.New(), newExecutor(s, nil, log), nil)
	}
	res.add("plugins", err, fmt.Sprintf("%d plugins in %s", len(plugins), s.PluginsFile))

	res.add("data_dir", checkWritable(s.DataDir), s.DataDir)

	if s.JournalEnabled {
		j, err := journal.Open(s.DataDir, log)
		if err == nil {
			err = j.Close()
		}
		res.add("journal", err, filepath.Join(s.DataDir, journal.FileName))
	}
	return res
}

func foundErr(found bool, name string) error {
	if found {
		return nil
	}
	return fmt.Errorf("%s is not installed or not on PATH", name)
}

func checkWritable(dir string) error {
	if err := runstore.Mkdir(dir); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".doctor-write-test")
	if err := runstore.WriteBytes(probe, []byte("ok\n")); err != nil {
		return fmt.Errorf("data directory %s is not writable: %w", dir, err)
	}
	return os.Remove(probe)
}
