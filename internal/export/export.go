// Package export bundles every successful binary asset plus the source
// text into one zip archive. Assets that never succeeded are simply
// omitted; the only failure mode is the archive write itself.
package export

import (
	"archive/zip"
	"fmt"
	"io"
	"strings"
	"time"

	"storytomedia/internal/story"
)

// Filename is the suggested download name of the archive.
const Filename = "story_assets.zip"

// extByMime 常见产物类型到文件后缀的映射
var extByMime = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/webp": "webp",
	"audio/wav":  "wav",
	"audio/mpeg": "mp3",
	"video/mp4":  "mp4",
	"video/webm": "webm",
}

func extFor(a *story.Asset) string {
	if ext, ok := extByMime[strings.ToLower(strings.TrimSpace(strings.Split(a.Mime, ";")[0]))]; ok {
		return ext
	}
	return "bin"
}

// Write streams the archive for the given paragraph tree to w.
// Layout, 1-based and zero-padded:
//
//	Story_Output_<unix>/paragraph_01/text.txt
//	Story_Output_<unix>/paragraph_01/audio.wav
//	Story_Output_<unix>/paragraph_01/scene_01_start.png
//	Story_Output_<unix>/paragraph_01/scene_01_end.png
//	Story_Output_<unix>/paragraph_01/scene_01_video.mp4
func Write(w io.Writer, paragraphs []*story.Paragraph) error {
	zw := zip.NewWriter(w)
	root := fmt.Sprintf("Story_Output_%d", time.Now().Unix())

	for pIdx, p := range paragraphs {
		dir := fmt.Sprintf("%s/paragraph_%02d", root, pIdx+1)

		if err := addFile(zw, dir+"/text.txt", []byte(p.Text)); err != nil {
			return err
		}
		if p.AudioStatus == story.StatusSuccess && p.Audio != nil {
			name := fmt.Sprintf("%s/audio.%s", dir, extFor(p.Audio))
			if err := addFile(zw, name, p.Audio.Data); err != nil {
				return err
			}
		}

		for sIdx, s := range p.Scenes {
			prefix := fmt.Sprintf("%s/scene_%02d", dir, sIdx+1)
			if s.StartImageStatus == story.StatusSuccess && s.StartImage != nil {
				if err := addFile(zw, fmt.Sprintf("%s_start.%s", prefix, extFor(s.StartImage)), s.StartImage.Data); err != nil {
					return err
				}
			}
			if s.EndImageStatus == story.StatusSuccess && s.EndImage != nil {
				if err := addFile(zw, fmt.Sprintf("%s_end.%s", prefix, extFor(s.EndImage)), s.EndImage.Data); err != nil {
					return err
				}
			}
			if s.VideoStatus == story.StatusSuccess && s.Video != nil {
				if err := addFile(zw, fmt.Sprintf("%s_video.%s", prefix, extFor(s.Video)), s.Video.Data); err != nil {
					return err
				}
			}
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}

func addFile(zw *zip.Writer, name string, data []byte) error {
	f, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
