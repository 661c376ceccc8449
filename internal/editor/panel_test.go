package editor

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/starford/funnelsim/internal/blocks"
	"github.com/starford/funnelsim/internal/models"
)

// loop emulates the session loop: dispatched closures queue up until drained.
type loop struct {
	ch chan func() bool
}

func newLoop() *loop { return &loop{ch: make(chan func() bool, 16)} }

func (l *loop) dispatch(fn func() bool) { l.ch <- fn }

func (l *loop) runOne(t *testing.T) {
	t.Helper()
	select {
	case fn := <-l.ch:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched completion")
	}
}

func selectedStore(t *testing.T, kind string) *Store {
	t.Helper()
	s := NewStore()
	s.AddNode(node("n", kind, 0, 0))
	s.ApplyNodeChanges([]NodeChange{Select("n", true)})
	return s
}

func TestPanelFields_NothingSelected(t *testing.T) {
	p := NewPanel(blocks.Default(), NewStore())
	if got := p.Fields(); len(got) != 0 {
		t.Fatalf("fields = %+v, want none", got)
	}
}

func TestPanelFields_UnknownKind(t *testing.T) {
	p := NewPanel(blocks.Default(), selectedStore(t, "teleporter"))
	if got := p.Fields(); len(got) != 0 {
		t.Fatalf("fields = %+v, want none", got)
	}
}

func TestPanelFields_DescriptionFallback(t *testing.T) {
	s := selectedStore(t, "landing-page")
	p := NewPanel(blocks.Default(), s)
	d, _ := blocks.Default().Lookup("landing-page")

	var desc, url *FieldView
	fields := p.Fields()
	for i := range fields {
		switch fields[i].Field {
		case models.FieldDescription:
			desc = &fields[i]
		case models.FieldURL:
			url = &fields[i]
		}
	}
	if desc == nil || desc.Value != d.Description {
		t.Fatalf("description = %+v, want descriptor fallback %q", desc, d.Description)
	}
	if url == nil || url.Placeholder != d.LinkExample {
		t.Fatalf("url = %+v, want placeholder %q", url, d.LinkExample)
	}
}

func TestPanelFields_FileAccept(t *testing.T) {
	p := NewPanel(blocks.Default(), selectedStore(t, "pdf-upload"))
	for _, f := range p.Fields() {
		if f.Field == models.FieldFileSrc {
			if f.Accept != "application/pdf" {
				t.Fatalf("accept = %q", f.Accept)
			}
			return
		}
	}
	t.Fatal("file field missing")
}

func TestPanelEdit(t *testing.T) {
	s := selectedStore(t, "email-sequence")
	p := NewPanel(blocks.Default(), s)

	if !p.Edit(models.FieldSubject, "Welcome!") {
		t.Fatal("subject edit rejected")
	}
	if !p.Edit(models.FieldSendTime, "09:00") {
		t.Fatal("sendTime edit rejected")
	}
	n, _ := s.Node("n")
	if n.Data[models.FieldSubject] != "Welcome!" || n.Data[models.FieldSendTime] != "09:00" {
		t.Fatalf("data = %v", n.Data)
	}
}

func TestPanelEdit_OutsideVariant(t *testing.T) {
	s := selectedStore(t, "welcome-email")
	p := NewPanel(blocks.Default(), s)
	base := s.HistoryLen()
	if p.Edit(models.FieldSendTime, "09:00") {
		t.Fatal("sendTime accepted on a welcome e-mail")
	}
	if p.Edit(models.FieldURL, "https://x.test") {
		t.Fatal("url accepted on an e-mail block")
	}
	if s.HistoryLen() != base {
		t.Fatal("rejected edit pushed history")
	}
}

func TestPanelEdit_FileFieldsReserved(t *testing.T) {
	p := NewPanel(blocks.Default(), selectedStore(t, "image-upload"))
	if p.Edit(models.FieldFileSrc, "data:image/png;base64,AA==") {
		t.Fatal("fileSrc must go through AttachFile")
	}
}

func TestAttachFile(t *testing.T) {
	s := selectedStore(t, "image-upload")
	p := NewPanel(blocks.Default(), s)
	l := newLoop()

	if !p.AttachFile(File{Name: "logo.png", Type: "image/png", Body: strings.NewReader("png")}, l.dispatch) {
		t.Fatal("attach rejected")
	}
	l.runOne(t)

	n, _ := s.Node("n")
	if got := n.Data[models.FieldFileSrc]; got != "data:image/png;base64,cG5n" {
		t.Fatalf("fileSrc = %q", got)
	}
	if n.Data[models.FieldFileName] != "logo.png" || n.Data[models.FieldFileType] != "image/png" {
		t.Fatalf("metadata = %v", n.Data)
	}
}

func TestAttachFile_DetectsType(t *testing.T) {
	s := selectedStore(t, "pdf-upload")
	p := NewPanel(blocks.Default(), s)
	l := newLoop()

	p.AttachFile(File{Name: "guide.pdf", Body: bytes.NewReader([]byte("%PDF-1.4"))}, l.dispatch)
	l.runOne(t)

	n, _ := s.Node("n")
	if got := n.Data[models.FieldFileType]; got != "application/pdf" {
		t.Fatalf("fileType = %q", got)
	}
}

func TestAttachFile_StaleAfterFunnelSwitch(t *testing.T) {
	s := selectedStore(t, "image-upload")
	p := NewPanel(blocks.Default(), s)
	l := newLoop()

	p.AttachFile(File{Name: "a.png", Type: "image/png", Body: strings.NewReader("a")}, l.dispatch)
	s.SetFunnelID("other")
	s.AddNode(node("n", "image-upload", 0, 0))
	l.runOne(t)

	n, _ := s.Node("n")
	if n.Data[models.FieldFileSrc] != "" {
		t.Fatal("completion from a previous funnel was applied")
	}
}

func TestAttachFile_NodeDeleted(t *testing.T) {
	s := selectedStore(t, "video-upload")
	p := NewPanel(blocks.Default(), s)
	l := newLoop()

	p.AttachFile(File{Name: "v.mp4", Type: "video/mp4", Body: strings.NewReader("v")}, l.dispatch)
	s.DeleteNode("n")
	base := s.HistoryLen()
	l.runOne(t)

	if s.HasNode("n") || s.HistoryLen() != base {
		t.Fatal("completion resurrected or mutated a deleted node")
	}
}

func TestAttachFile_Oversized(t *testing.T) {
	s := selectedStore(t, "image-upload")
	p := NewPanel(blocks.Default(), s, WithMaxUploadBytes(4))
	l := newLoop()

	p.AttachFile(File{Name: "big.png", Type: "image/png", Body: strings.NewReader("0123456789")}, l.dispatch)
	select {
	case <-l.ch:
		t.Fatal("oversized file dispatched a completion")
	case <-time.After(100 * time.Millisecond):
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestAttachFile_ReadError(t *testing.T) {
	s := selectedStore(t, "image-upload")
	p := NewPanel(blocks.Default(), s)
	l := newLoop()

	p.AttachFile(File{Name: "x.png", Body: failingReader{}}, l.dispatch)
	select {
	case <-l.ch:
		t.Fatal("failed read dispatched a completion")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAttachFile_NotAFileKind(t *testing.T) {
	p := NewPanel(blocks.Default(), selectedStore(t, "landing-page"))
	if p.AttachFile(File{Name: "a.png", Body: strings.NewReader("a")}, newLoop().dispatch) {
		t.Fatal("attach accepted on a landing page")
	}
}

func TestAttachFile_LastCompletionWins(t *testing.T) {
	s := selectedStore(t, "all-in-one")
	p := NewPanel(blocks.Default(), s)
	l := newLoop()

	p.AttachFile(File{Name: "first.png", Type: "image/png", Body: strings.NewReader("1")}, l.dispatch)
	l.runOne(t)
	p.AttachFile(File{Name: "second.png", Type: "image/png", Body: strings.NewReader("2")}, l.dispatch)
	l.runOne(t)

	n, _ := s.Node("n")
	if n.Data[models.FieldFileName] != "second.png" {
		t.Fatalf("fileName = %q, want second.png", n.Data[models.FieldFileName])
	}
}
