package plugin

import (
	"plugin-jobs/internal/config"
	"plugin-jobs/internal/transcribe"
	"plugin-jobs/internal/ytdlp"
)

// Command is the closed set of things a plugin invocation can do.
type Command interface {
	plugin() config.Plugin
}

// ExternalProgram runs the plugin's command once as a single job.
type ExternalProgram struct {
	Plugin config.Plugin
}

// ChunkedTranscription runs a transcriber over every item of a playlist or video.
type ChunkedTranscription struct {
	Plugin      config.Plugin
	Transcriber transcribe.ItemTranscriber
}

// ListJobs reports the caller's active jobs.
type ListJobs struct {
	Plugin config.Plugin
}

// CancelJob cancels one of the caller's active jobs.
type CancelJob struct {
	Plugin config.Plugin
}

func (c ExternalProgram) plugin() config.Plugin      { return c.Plugin }
func (c ChunkedTranscription) plugin() config.Plugin { return c.Plugin }
func (c ListJobs) plugin() config.Plugin             { return c.Plugin }
func (c CancelJob) plugin() config.Plugin            { return c.Plugin }

// commandFor picks the command kind from the plugin definition.
func (m *Manager) commandFor(p config.Plugin) Command {
	switch p.Kind {
	case config.KindTranscribe:
		return ChunkedTranscription{Plugin: p, Transcriber: m.transcriberFor(p)}
	case config.KindJobStatus:
		return ListJobs{Plugin: p}
	case config.KindJobCancel:
		return CancelJob{Plugin: p}
	default:
		return ExternalProgram{Plugin: p}
	}
}

func (m *Manager) transcriberFor(p config.Plugin) transcribe.ItemTranscriber {
	exec := p.Execution
	if !exec.Chunking.Enabled {
		return &transcribe.DirectTranscriber{
			Runner:         m.exec,
			Program:        exec.Command,
			Args:           exec.Args,
			Timeout:        exec.Timeout(),
			Dir:            exec.WorkingDirectory,
			Env:            exec.Env,
			MaxOutputBytes: exec.MaxOutputBytes,
		}
	}
	ch := exec.Chunking
	return transcribe.NewAudioPipeline(m.exec, transcribe.PipelineConfig{
		Window:          ch.ChunkDuration(),
		Threshold:       ch.Threshold(),
		DownloadTimeout: ch.DownloadTimeout(),
		SplitTimeout:    ch.SplitTimeout(),
		WindowTimeout:   ch.ChunkTimeout(),
		FileCommand:     ch.FileCommand,
		FileArgs:        ch.FileArgs,
		MaxOutputBytes:  exec.MaxOutputBytes,
		Env:             exec.Env,
		WorkRoot:        m.workRoot,
		ToolOptions:     m.toolOptions,
	}, m.windows, m.log)
}

// programsFor lists every program a plugin may spawn.
func programsFor(p config.Plugin) []string {
	switch p.Kind {
	case config.KindJobStatus, config.KindJobCancel:
		return nil
	case config.KindTranscribe:
		if p.Execution.Chunking.Enabled {
			return []string{ytdlp.Program, ytdlp.FFprobe, ytdlp.FFmpeg, p.Execution.Chunking.FileCommand}
		}
	}
	return []string{p.Execution.Command}
}
