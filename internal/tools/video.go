package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/haasonsaas/conductor/internal/agent"
	"github.com/haasonsaas/conductor/pkg/models"
)

// VideoTools drives yt-dlp for probing, transcript extraction, and download.
type VideoTools struct {
	// Binary is the yt-dlp executable. Empty means "yt-dlp" on PATH.
	Binary string

	// WorkDir holds subtitle and download output. Empty means the OS temp dir.
	WorkDir string
}

// NewVideoTools creates the video toolchain.
func NewVideoTools(binary, workDir string) *VideoTools {
	if binary == "" {
		binary = "yt-dlp"
	}
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &VideoTools{Binary: binary, WorkDir: workDir}
}

// videoMetadata is the subset of yt-dlp's JSON dump we read.
type videoMetadata struct {
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
	Uploader string  `json:"uploader"`
	URL      string  `json:"webpage_url"`
}

// Probe fetches video metadata without downloading.
func (v *VideoTools) Probe(ctx context.Context, videoURL string) (*videoMetadata, error) {
	cmd := exec.CommandContext(ctx, v.Binary, "-J", "--skip-download", videoURL)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", videoURL, err)
	}
	var meta videoMetadata
	if err := json.Unmarshal(out, &meta); err != nil {
		return nil, fmt.Errorf("parse probe output: %w", err)
	}
	if meta.URL == "" {
		meta.URL = videoURL
	}
	return &meta, nil
}

// ProbeDescriptor returns the registry descriptor for video_probe.
func (v *VideoTools) ProbeDescriptor() *agent.ToolDescriptor {
	return &agent.ToolDescriptor{
		Name:        "video_probe",
		Description: "Fetch video metadata (title, duration, uploader) for a video URL without downloading it.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"url": {"type": "string", "description": "The video URL"}
			},
			"required": ["url"]
		}`),
		Timeout: 45 * time.Second,
		Runner: agent.ToolRunnerFunc(func(ctx context.Context, params map[string]any, _ func(map[string]any)) (*agent.RunOutput, error) {
			videoURL, _ := params["url"].(string)
			meta, err := v.Probe(ctx, videoURL)
			if err != nil {
				return nil, err
			}
			data, err := json.Marshal(map[string]any{
				"url":             meta.URL,
				"title":           meta.Title,
				"uploader":        meta.Uploader,
				"durationSeconds": int(meta.Duration),
			})
			if err != nil {
				return nil, err
			}
			return &agent.RunOutput{Output: string(data)}, nil
		}),
	}
}

// Transcript extracts subtitle text for a video URL, preferring uploaded
// subtitles over auto-generated ones.
func (v *VideoTools) Transcript(ctx context.Context, videoURL string, includeTimestamps bool) (string, error) {
	dir, err := os.MkdirTemp(v.WorkDir, "transcript-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	cmd := exec.CommandContext(ctx, v.Binary,
		"--skip-download",
		"--write-subs", "--write-auto-subs",
		"--sub-format", "json3",
		"--sub-langs", "en.*,zh.*,-live_chat",
		"-o", filepath.Join(dir, "sub"),
		videoURL,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("subtitle fetch failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	matches, err := filepath.Glob(filepath.Join(dir, "sub*.json3"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("no subtitles available for %s", videoURL)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		return "", err
	}
	return parseJSON3Transcript(data, includeTimestamps)
}

// json3Events is the subtitle track structure yt-dlp writes for json3.
type json3Events struct {
	Events []struct {
		StartMs int64 `json:"tStartMs"`
		Segs    []struct {
			UTF8 string `json:"utf8"`
		} `json:"segs"`
	} `json:"events"`
}

func parseJSON3Transcript(data []byte, includeTimestamps bool) (string, error) {
	var track json3Events
	if err := json.Unmarshal(data, &track); err != nil {
		return "", fmt.Errorf("parse subtitle track: %w", err)
	}
	var b strings.Builder
	for _, ev := range track.Events {
		var line strings.Builder
		for _, seg := range ev.Segs {
			line.WriteString(seg.UTF8)
		}
		text := strings.TrimSpace(line.String())
		if text == "" {
			continue
		}
		if includeTimestamps {
			total := ev.StartMs / 1000
			fmt.Fprintf(&b, "[%d:%02d] ", total/60, total%60)
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	transcript := strings.TrimSpace(b.String())
	if transcript == "" {
		return "", fmt.Errorf("subtitle track is empty")
	}
	return transcript, nil
}

// TranscriptDescriptor returns the registry descriptor for video_transcript.
func (v *VideoTools) TranscriptDescriptor() *agent.ToolDescriptor {
	return &agent.ToolDescriptor{
		Name:        "video_transcript",
		Description: "Extract the transcript (subtitles) of a video. Probe the video first to learn its duration.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"url": {"type": "string", "description": "The video URL"},
				"includeTimestamps": {"type": "boolean", "description": "Prefix each line with its timestamp"},
				"durationSeconds": {"type": "integer", "description": "Video duration from a prior probe"}
			},
			"required": ["url"]
		}`),
		Timeout: 2 * time.Minute,
		Runner: agent.ToolRunnerFunc(func(ctx context.Context, params map[string]any, _ func(map[string]any)) (*agent.RunOutput, error) {
			videoURL, _ := params["url"].(string)
			includeTimestamps, _ := params["includeTimestamps"].(bool)
			transcript, err := v.Transcript(ctx, videoURL, includeTimestamps)
			if err != nil {
				return nil, err
			}
			data, err := json.Marshal(map[string]any{"url": videoURL, "transcript": transcript})
			if err != nil {
				return nil, err
			}
			return &agent.RunOutput{Output: string(data)}, nil
		}),
	}
}

// Download fetches the video file, returning its path.
func (v *VideoTools) Download(ctx context.Context, videoURL string, progress func(map[string]any)) (string, error) {
	dir, err := os.MkdirTemp(v.WorkDir, "download-*")
	if err != nil {
		return "", err
	}
	target := filepath.Join(dir, "video.%(ext)s")

	cmd := exec.CommandContext(ctx, v.Binary, "-f", "mp4/bestvideo+bestaudio", "-o", target, videoURL)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("download failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	if progress != nil {
		progress(map[string]any{"stage": "downloaded"})
	}

	matches, err := filepath.Glob(filepath.Join(dir, "video.*"))
	if err != nil || len(matches) == 0 {
		os.RemoveAll(dir)
		return "", fmt.Errorf("downloaded file not found")
	}
	return matches[0], nil
}

// DownloadDescriptor returns the registry descriptor for video_download. The
// director refuses this tool unless the task genuinely requires the file.
func (v *VideoTools) DownloadDescriptor() *agent.ToolDescriptor {
	return &agent.ToolDescriptor{
		Name:        "video_download",
		Description: "Download a video file. Only use when the task requires the video file itself, not just its content.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"url": {"type": "string", "description": "The video URL"}
			},
			"required": ["url"]
		}`),
		Timeout:              10 * time.Minute,
		RequiresConfirmation: true,
		Runner: agent.ToolRunnerFunc(func(ctx context.Context, params map[string]any, progress func(map[string]any)) (*agent.RunOutput, error) {
			videoURL, _ := params["url"].(string)
			path, err := v.Download(ctx, videoURL, progress)
			if err != nil {
				return nil, err
			}
			info, err := os.Stat(path)
			if err != nil {
				return nil, err
			}
			artifact := models.Artifact{
				Name:     filepath.Base(path),
				MimeType: "video/mp4",
				Size:     info.Size(),
				URL:      path,
			}
			data, _ := json.Marshal(map[string]any{"url": videoURL, "path": path, "sizeBytes": info.Size()})
			return &agent.RunOutput{Output: string(data), Artifacts: []models.Artifact{artifact}}, nil
		}),
	}
}

// RegisterBuiltins registers the standard toolset on the registry.
func RegisterBuiltins(registry *agent.Registry, web *WebSearch, papers *PaperSearch, video *VideoTools) error {
	descriptors := []*agent.ToolDescriptor{
		web.Descriptor(),
		papers.Descriptor(),
		video.ProbeDescriptor(),
		video.TranscriptDescriptor(),
		video.DownloadDescriptor(),
	}
	for _, d := range descriptors {
		if err := registry.Register(d); err != nil {
			return err
		}
	}
	return nil
}
