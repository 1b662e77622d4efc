package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	orchestration "github.com/koscakluka/ema-talk/core"
	"github.com/koscakluka/ema-talk/core/llms"
)

type fakeConversation struct {
	sent    []string
	sendErr error
	toggles int
	clears  int
	muted   bool
}

func (c *fakeConversation) SendMessage(content string) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, content)
	return nil
}

func (c *fakeConversation) ToggleMicrophone() {
	c.toggles++
	c.muted = !c.muted
}

func (c *fakeConversation) ClearConversation() { c.clears++ }
func (c *fakeConversation) IsMicrophoneMuted() bool { return c.muted }

type fakeSpeaker struct {
	initializeErr error
	initialized   bool
	initializes   int
	revalidations int
	restores      int
}

func (s *fakeSpeaker) Initialize(context.Context) error {
	s.initializes++
	if s.initializeErr != nil {
		return s.initializeErr
	}
	s.initialized = true
	return nil
}

func (s *fakeSpeaker) Restore(context.Context) error {
	s.restores++
	return nil
}

func (s *fakeSpeaker) Revalidate(context.Context) error {
	s.revalidations++
	return nil
}

func (s *fakeSpeaker) IsInitialized() bool { return s.initialized }
func (s *fakeSpeaker) IsSupported() bool   { return true }

func newTestModel(conversation *fakeConversation, speaker *fakeSpeaker) model {
	m := newModel(context.Background(), conversation, speaker, true)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 60, Height: 20})
	return updated.(model)
}

func update(t *testing.T, m model, msg tea.Msg) (model, tea.Cmd) {
	t.Helper()
	updated, cmd := m.Update(msg)
	next, ok := updated.(model)
	if !ok {
		t.Fatalf("expected model, got %T", updated)
	}
	return next, cmd
}

func typeText(t *testing.T, m model, text string) model {
	t.Helper()
	for _, r := range text {
		msg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
		if r == ' ' {
			msg = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
		}
		m, _ = update(t, m, msg)
	}
	return m
}

func TestEnterSendsTypedText(t *testing.T) {
	conversation := &fakeConversation{}
	m := newTestModel(conversation, &fakeSpeaker{})

	m = typeText(t, m, "hello there")
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	if len(conversation.sent) != 1 || conversation.sent[0] != "hello there" {
		t.Fatalf("expected typed text to be sent, got %v", conversation.sent)
	}
	if m.input.Value() != "" {
		t.Fatalf("expected input to be cleared, got %q", m.input.Value())
	}
	if conversation.toggles != 0 {
		t.Fatalf("expected space inside text not to toggle the microphone, got %d toggles", conversation.toggles)
	}
}

func TestEnterKeepsTextWhenSendIsRejected(t *testing.T) {
	conversation := &fakeConversation{sendErr: orchestration.ErrSendInFlight}
	m := newTestModel(conversation, &fakeSpeaker{})

	m = typeText(t, m, "again")
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	if m.input.Value() != "again" {
		t.Fatalf("expected input to be kept, got %q", m.input.Value())
	}
	if !errors.Is(m.lastErr, orchestration.ErrSendInFlight) {
		t.Fatalf("expected in-flight error, got %v", m.lastErr)
	}
	if !strings.Contains(m.View(), "Still waiting") {
		t.Fatalf("expected view to explain the rejection")
	}
}

func TestSpaceTogglesMicrophoneWhenInputEmpty(t *testing.T) {
	conversation := &fakeConversation{}
	m := newTestModel(conversation, &fakeSpeaker{})

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})

	if conversation.toggles != 1 {
		t.Fatalf("expected one toggle, got %d", conversation.toggles)
	}
	if m.input.Value() != "" {
		t.Fatalf("expected space not to be typed, got %q", m.input.Value())
	}
	if !strings.Contains(m.View(), "mic muted") {
		t.Fatalf("expected status to show muted microphone")
	}
}

func TestCtrlLClearsConversation(t *testing.T) {
	conversation := &fakeConversation{}
	m := newTestModel(conversation, &fakeSpeaker{})

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlL})
	if conversation.clears != 1 {
		t.Fatalf("expected one clear, got %d", conversation.clears)
	}

	m, _ = update(t, m, chatMsg{message: llms.NewChatMessage(llms.RoleUser, "hi", time.Now())})
	m, _ = update(t, m, clearedMsg{})
	if len(m.messages) != 0 {
		t.Fatalf("expected history to be emptied, got %d messages", len(m.messages))
	}
}

func TestPartialReplyIsReplacedByFinalMessage(t *testing.T) {
	m := newTestModel(&fakeConversation{}, &fakeSpeaker{})

	m, _ = update(t, m, chatMsg{message: llms.NewChatMessage(llms.RoleUser, "こんにちは", time.Now())})
	m, _ = update(t, m, partialMsg{segment: "こんにち"})
	m, _ = update(t, m, partialMsg{segment: "は！"})
	if m.partial != "こんにちは！" {
		t.Fatalf("expected accumulated partial, got %q", m.partial)
	}
	if !strings.Contains(m.renderHistory(), "こんにちは！") {
		t.Fatalf("expected partial reply to be rendered")
	}

	m, _ = update(t, m, chatMsg{message: llms.NewChatMessage(llms.RoleAssistant, "こんにちは！", time.Now())})
	if m.partial != "" {
		t.Fatalf("expected partial to be cleared, got %q", m.partial)
	}
	if len(m.messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(m.messages))
	}
}

func TestTranscriptShownUntilFinal(t *testing.T) {
	m := newTestModel(&fakeConversation{}, &fakeSpeaker{})

	m, _ = update(t, m, transcriptMsg{text: "こんに"})
	if !strings.Contains(m.View(), "こんに") {
		t.Fatalf("expected interim transcript in view")
	}
	m, _ = update(t, m, transcriptMsg{text: "こんにちは", final: true})
	if m.transcript != "" {
		t.Fatalf("expected transcript to be cleared, got %q", m.transcript)
	}
}

func TestCtrlAInitializesAudio(t *testing.T) {
	speaker := &fakeSpeaker{}
	m := newTestModel(&fakeConversation{}, speaker)

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlA})
	if cmd == nil {
		t.Fatalf("expected initialization command")
	}
	msg := cmd()
	if result, ok := msg.(audioInitMsg); !ok || result.err != nil {
		t.Fatalf("expected successful audioInitMsg, got %#v", msg)
	}
	if speaker.initializes != 1 {
		t.Fatalf("expected one initialization, got %d", speaker.initializes)
	}
}

func TestAudioInitFailureIsShown(t *testing.T) {
	m := newTestModel(&fakeConversation{}, &fakeSpeaker{})

	m, _ = update(t, m, audioInitMsg{err: errors.New("device busy")})
	if !strings.Contains(m.View(), "device busy") {
		t.Fatalf("expected initialization error in view")
	}
}

func TestRenderMessageWrapsLongContent(t *testing.T) {
	rendered := renderMessage(llms.RoleUser, strings.Repeat("word ", 20), 20)
	if lines := strings.Count(rendered, "\n"); lines < 3 {
		t.Fatalf("expected wrapped content, got %d line breaks", lines)
	}
}

func TestFocusRevalidatesAudio(t *testing.T) {
	speaker := &fakeSpeaker{}
	m := newTestModel(&fakeConversation{}, speaker)

	m.revalidateAudio()()
	m.restoreAudio()()

	if speaker.revalidations != 1 || speaker.restores != 1 {
		t.Fatalf("expected one revalidation and one restore, got %d and %d", speaker.revalidations, speaker.restores)
	}
}
