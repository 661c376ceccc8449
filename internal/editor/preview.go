package editor

import (
	"strings"

	"github.com/starford/funnelsim/internal/blocks"
	"github.com/starford/funnelsim/internal/models"
)

// Preview types.
const (
	PreviewLanding  = "landing"
	PreviewVSL      = "vsl"
	PreviewCheckout = "checkout"
	PreviewImage    = "image"
	PreviewVideo    = "video"
	PreviewAudio    = "audio"
	PreviewPDF      = "pdf"
)

var uploadPreviews = map[string]string{
	"image-upload": PreviewImage,
	"video-upload": PreviewVideo,
	"audio-upload": PreviewAudio,
	"pdf-upload":   PreviewPDF,
}

// PreviewFor derives what the preview modal shows for n. ok is false when
// the node has nothing to preview.
func PreviewFor(reg *blocks.Registry, n models.Node) (models.PreviewContent, bool) {
	d, ok := reg.Lookup(n.Kind)
	if !ok {
		return models.PreviewContent{}, false
	}

	if src := n.Data[models.FieldFileSrc]; d.HasFile && src != "" {
		if t := previewForFile(n.Kind, n.Data[models.FieldFileType]); t != "" {
			return models.PreviewContent{Type: t, Src: src}, true
		}
	}

	if url := n.Data[models.FieldURL]; d.HasLink && url != "" {
		t := PreviewLanding
		switch n.Kind {
		case "vsl":
			t = PreviewVSL
		case "checkout":
			t = PreviewCheckout
		}
		return models.PreviewContent{Type: t, Src: url}, true
	}
	return models.PreviewContent{}, false
}

func previewForFile(kind, mimeType string) string {
	if t, ok := uploadPreviews[kind]; ok {
		return t
	}
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return PreviewImage
	case strings.HasPrefix(mimeType, "video/"):
		return PreviewVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return PreviewAudio
	case mimeType == "application/pdf":
		return PreviewPDF
	}
	return ""
}
