package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"plugin-jobs/internal/resolver"
)

type resolveReport struct {
	resolver.Reference
	VideoURL    string `json:"video_url,omitempty"`
	PlaylistURL string `json:"playlist_url,omitempty"`
}

func newResolveCmd(a *app) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "resolve <url>",
		Short: "Classify a media URL as a video, a playlist, or both",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := resolver.Resolve(args[0])
			if err != nil {
				return err
			}
			report := resolveReport{
				Reference:   ref,
				VideoURL:    ref.CanonicalVideoURL(),
				PlaylistURL: ref.PlaylistURL(),
			}
			if jsonOut {
				return printJSON(a.out, report)
			}
			fmt.Fprintf(a.out, "kind: %s\n", ref.Kind)
			if ref.VideoID != "" {
				fmt.Fprintf(a.out, "video_id: %s\n", ref.VideoID)
				fmt.Fprintf(a.out, "video_url: %s\n", report.VideoURL)
			}
			if ref.PlaylistID != "" {
				fmt.Fprintf(a.out, "playlist_id: %s\n", ref.PlaylistID)
				fmt.Fprintf(a.out, "playlist_url: %s\n", report.PlaylistURL)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print JSON output")
	return cmd
}

func newEnumerateCmd(a *app) *cobra.Command {
	var (
		maxItems int
		jsonOut  bool
	)
	cmd := &cobra.Command{
		Use:   "enumerate <playlist url>",
		Short: "List the videos of a playlist through yt-dlp",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := resolver.Resolve(args[0])
			if err != nil {
				return err
			}
			if !ref.HasPlaylist() {
				return fmt.Errorf("%s is not a playlist URL", strings.TrimSpace(args[0]))
			}
			ex := newExecutor(a.settings, nil, a.log)
			info, err := newEnumerator(a.settings, ex, a.log).Enumerate(cmd.Context(), ref.PlaylistID, maxItems)
			if err != nil {
				return err
			}
			estimate := resolver.EstimateDuration(info.Items)
			if jsonOut {
				return printJSON(a.out, struct {
					resolver.PlaylistInfo
					EstimateSeconds int    `json:"estimate_seconds"`
					Estimate        string `json:"estimate"`
				}{info, int(estimate.Seconds()), resolver.FormatDuration(estimate)})
			}
			fmt.Fprintf(a.out, "playlist: %s\n", info.Title)
			if info.Uploader != "" {
				fmt.Fprintf(a.out, "uploader: %s\n", info.Uploader)
			}
			fmt.Fprintf(a.out, "videos: %d\n", info.VideoCount)
			fmt.Fprintf(a.out, "estimate: %s\n", resolver.FormatDuration(estimate))
			for _, item := range info.Items {
				dur := "?"
				if item.HasDuration() {
					dur = (time.Duration(item.DurationSecs) * time.Second).String()
				}
				fmt.Fprintf(a.out, "%3d. %s  %s  (%s)\n", item.Index+1, item.VideoID, item.Title, dur)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxItems, "max", 0, "maximum number of videos (0 = all)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print JSON output")
	return cmd
}
