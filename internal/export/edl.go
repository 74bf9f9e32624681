package export

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/flowkit/flowkit-editor/internal/timeline"
)

const maxReelLen = 8

// GenerateEDL renders clips as a CMX3600 event list. Clips are laid end to end on
// the record timeline; each source video gets its own reel name.
func GenerateEDL(clips []ResolvedClip, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = int(timeline.FPS)
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	reels := reelNames(clips)
	recordOffsetMs := 0
	for i, clip := range clips {
		srcIn := msToTimecode(clip.StartMs, fps)
		srcOut := msToTimecode(clip.EndMs, fps)
		recIn := msToTimecode(recordOffsetMs, fps)
		durationMs := clip.EndMs - clip.StartMs
		recOut := msToTimecode(recordOffsetMs+durationMs, fps)

		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, reels[clip.MediaPath], "V", srcIn, srcOut, recIn, recOut),
			fmt.Sprintf("* FROM CLIP NAME:  %s", clip.ClipName),
			fmt.Sprintf("* MEDIA PATH:  %s", clip.MediaPath),
		)

		recordOffsetMs += durationMs
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

// reelNames assigns each distinct media path an 8-character reel name derived from
// its file name, numbering collisions.
func reelNames(clips []ResolvedClip) map[string]string {
	reels := make(map[string]string)
	used := make(map[string]bool)
	for _, c := range clips {
		if _, ok := reels[c.MediaPath]; ok {
			continue
		}
		base := reelBase(c.MediaPath)
		name := base
		for n := 2; used[name]; n++ {
			suffix := fmt.Sprintf("%d", n)
			name = base[:min(len(base), maxReelLen-len(suffix))] + suffix
		}
		used[name] = true
		reels[c.MediaPath] = name
	}
	return reels
}

func reelBase(mediaPath string) string {
	stem := strings.TrimSuffix(filepath.Base(mediaPath), filepath.Ext(mediaPath))
	var b strings.Builder
	for _, r := range strings.ToUpper(stem) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
		if b.Len() == maxReelLen {
			break
		}
	}
	if b.Len() == 0 {
		return "AX"
	}
	return b.String()
}

func msToTimecode(ms int, fps int) string {
	totalFrames := int(math.Round(float64(ms) * float64(fps) / 1000.0))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
