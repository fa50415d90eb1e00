// Пакет proc — типизированные обёртки над внешними процессами (ffprobe, ffmpeg,
// git, yt-dlp, shell). Каждый вызов возвращает разобранный результат или
// ProcessError с разделёнными stdout/stderr: молча смешивать потоки нельзя,
// иначе диагностика сбоев превращается в угадайку.
package proc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ProcessError описывает неуспешное завершение внешнего процесса.
type ProcessError struct {
	Name   string
	Args   []string
	Stderr string
	Err    error
}

func (e *ProcessError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return fmt.Sprintf("%s: %v: %s", e.Name, e.Err, msg)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// run выполняет команду и возвращает stdout. stderr сохраняется в ошибке.
func run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), &ProcessError{Name: name, Args: args, Stderr: stderr.String(), Err: err}
	}
	return stdout.String(), nil
}

// probeTimeout — дедлайн ffprobe: зависший пробник не должен держать плеер.
const probeTimeout = 15 * time.Second

// ProbeDuration возвращает длительность медиа в секундах через
// `ffprobe -show_entries format=duration`. По таймауту или любой другой ошибке
// возвращает 0: вызывающий подставляет запасной знаменатель.
func ProbeDuration(ctx context.Context, input string) int {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := run(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		input,
	)
	if err != nil {
		return 0
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil || seconds < 0 {
		return 0
	}
	return int(seconds)
}

// VideoMeta — метаданные видеопотока для атрибутов отправки.
type VideoMeta struct {
	Duration int
	Width    int
	Height   int
}

// ProbeVideo извлекает длительность и размеры кадра. На любой ошибке
// возвращает безопасный минимум 1x1x1: отправка не должна падать из-за пробника.
func ProbeVideo(ctx context.Context, path string) VideoMeta {
	fallback := VideoMeta{Duration: 1, Width: 1, Height: 1}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := run(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height:format=duration",
		"-of", "json",
		path,
	)
	if err != nil {
		return fallback
	}

	var parsed struct {
		Streams []struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if jsonErr := json.Unmarshal([]byte(out), &parsed); jsonErr != nil {
		return fallback
	}

	meta := fallback
	if len(parsed.Streams) > 0 {
		if parsed.Streams[0].Width > 0 {
			meta.Width = parsed.Streams[0].Width
		}
		if parsed.Streams[0].Height > 0 {
			meta.Height = parsed.Streams[0].Height
		}
	}
	if seconds, convErr := strconv.ParseFloat(strings.TrimSpace(parsed.Format.Duration), 64); convErr == nil && seconds >= 1 {
		meta.Duration = int(seconds)
	}
	return meta
}

// Screenshot снимает первый кадр видео в jpegPath (миниатюра для отправки).
func Screenshot(ctx context.Context, videoPath, jpegPath string) error {
	_, err := run(ctx, "ffmpeg",
		"-y",
		"-i", videoPath,
		"-vframes", "1",
		"-q:v", "2",
		jpegPath,
	)
	return err
}

// Git выполняет git-подкоманду в каталоге dir и возвращает stdout.
func Git(ctx context.Context, dir string, args ...string) (string, error) {
	full := append([]string{"-C", dir}, args...)
	out, err := run(ctx, "git", full...)
	return strings.TrimSpace(out), err
}

// Shell выполняет произвольную команду через sh -c и возвращает объединённый
// вывод. Используется только командой /shell владельца.
func Shell(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined
	err := cmd.Run()
	if err != nil {
		return combined.String(), &ProcessError{Name: "sh", Args: []string{"-c", command}, Stderr: combined.String(), Err: err}
	}
	return combined.String(), nil
}

// YtDlpInfo — усечённый ответ `yt-dlp --dump-json`.
type YtDlpInfo struct {
	Title    string `json:"title"`
	Ext      string `json:"ext"`
	Filesize int64   `json:"filesize_approx"`
	Duration float64 `json:"duration"`
}

// YtDlpProbe запрашивает метаданные ролика без скачивания.
func YtDlpProbe(ctx context.Context, url, cookies string) (*YtDlpInfo, error) {
	args := []string{"--dump-json", "--no-playlist"}
	if cookies != "" {
		args = append(args, "--cookies", cookies)
	}
	args = append(args, url)

	out, err := run(ctx, "yt-dlp", args...)
	if err != nil {
		return nil, err
	}
	var info YtDlpInfo
	if jsonErr := json.Unmarshal([]byte(out), &info); jsonErr != nil {
		return nil, fmt.Errorf("parse yt-dlp json: %w", jsonErr)
	}
	return &info, nil
}

// YtDlpDownload скачивает url в каталог dir. audioOnly включает извлечение
// аудио в mp3 320kbps через ffmpeg-постобработку yt-dlp.
func YtDlpDownload(ctx context.Context, url, dir, cookies string, audioOnly bool) error {
	args := []string{
		"--no-playlist",
		"-o", dir + "/%(title)s.%(ext)s",
	}
	if audioOnly {
		args = append(args, "-x", "--audio-format", "mp3", "--audio-quality", "320K")
	} else {
		args = append(args, "-f", "bestvideo[height<=1080]+bestaudio/best", "--merge-output-format", "mp4")
	}
	if cookies != "" {
		args = append(args, "--cookies", cookies)
	}
	args = append(args, url)

	_, err := run(ctx, "yt-dlp", args...)
	return err
}
