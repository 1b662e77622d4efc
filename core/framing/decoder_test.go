package framing

import (
	"fmt"
	"slices"
	"strings"
	"testing"
)

func textFrame(text string) string {
	return fmt.Sprintf(`{"candidates":[{"content":{"parts":[{"text":%q}]}}]}`, text)
}

func feedAll(d *Decoder, chunks ...string) []string {
	var fragments []string
	for _, chunk := range chunks {
		fragments = append(fragments, d.Feed(chunk)...)
	}
	return fragments
}

func TestFeedEmitsFragmentOnceObjectBalances(t *testing.T) {
	d := NewDecoder()

	first := d.Feed(`{"candidates":[{"content":{"parts":[{"text":"Hi"}]}}`)
	if len(first) != 0 {
		t.Fatalf("expected no fragments before object closes, got %v", first)
	}

	second := d.Feed(`]}`)
	if !slices.Equal(second, []string{"Hi"}) {
		t.Fatalf("expected [Hi], got %v", second)
	}
	if got := d.Buffered(); got != 0 {
		t.Fatalf("expected empty buffer, got %d bytes", got)
	}
}

func TestFeedIsIndependentOfChunkBoundaries(t *testing.T) {
	stream := "[" + textFrame("こんにち") + ",\r\n" + textFrame(`say "{hi}" \ ok`) + ",\n" + textFrame("は！") + "]"
	expected := []string{"こんにち", `say "{hi}" \ ok`, "は！"}

	for split := 0; split <= len(stream); split++ {
		d := NewDecoder()
		got := feedAll(d, stream[:split], stream[split:])
		if !slices.Equal(got, expected) {
			t.Fatalf("split at %d: expected %v, got %v", split, expected, got)
		}
	}
}

func TestFeedByteByByte(t *testing.T) {
	stream := textFrame("a") + textFrame("b") + textFrame("c")

	d := NewDecoder()
	var got []string
	for i := 0; i < len(stream); i++ {
		got = append(got, d.Feed(stream[i:i+1])...)
	}

	if !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Fatalf("expected [a b c], got %v", got)
	}
}

func TestFeedIgnoresBracesInsideStrings(t *testing.T) {
	d := NewDecoder()

	got := d.Feed(textFrame("}}} {{{"))
	if !slices.Equal(got, []string{"}}} {{{"}) {
		t.Fatalf("expected braces preserved in single fragment, got %v", got)
	}
}

func TestFeedHandlesEscapeSplitAcrossChunks(t *testing.T) {
	d := NewDecoder()

	got := feedAll(d,
		`{"candidates":[{"content":{"parts":[{"text":"a\`,
		`"}"}]}}]}`,
	)
	if !slices.Equal(got, []string{`a"}`}) {
		t.Fatalf("expected escaped quote to stay inside the string, got %v", got)
	}
}

func TestFeedRetainsUnbalancedTail(t *testing.T) {
	d := NewDecoder()

	partial := `{"candidates":[{"content":{"parts":[{"te`
	got := d.Feed("  ,\n" + partial)
	if len(got) != 0 {
		t.Fatalf("expected no fragments, got %v", got)
	}
	if got := d.Buffered(); got != len(partial) {
		t.Fatalf("expected %d retained bytes starting at the unmatched brace, got %d", len(partial), got)
	}
}

func TestFeedDropsInertBytes(t *testing.T) {
	d := NewDecoder()

	if got := d.Feed("[\n ,\t"); len(got) != 0 {
		t.Fatalf("expected no fragments, got %v", got)
	}
	if got := d.Buffered(); got != 0 {
		t.Fatalf("expected inert bytes to be dropped, got %d buffered", got)
	}
}

func TestFeedSkipsFramesWithoutText(t *testing.T) {
	d := NewDecoder()

	got := feedAll(d,
		`{"usageMetadata":{"promptTokenCount":3}}`,
		`{"candidates":[{"content":{"parts":[]}}]}`,
		`{"candidates":[{"content":{"parts":[{"text":""}]}}]}`,
		textFrame("ok"),
	)
	if !slices.Equal(got, []string{"ok"}) {
		t.Fatalf("expected only [ok], got %v", got)
	}
}

func TestFeedContinuesAfterMalformedFrame(t *testing.T) {
	d := NewDecoder()

	got := d.Feed(`{"candidates": nope}` + textFrame("after"))
	if !slices.Equal(got, []string{"after"}) {
		t.Fatalf("expected scan to continue after malformed frame, got %v", got)
	}
}

func TestFeedSwallowsUpstreamErrorFrames(t *testing.T) {
	d := NewDecoder()

	got := d.Feed(`{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}` + textFrame("next"))
	if !slices.Equal(got, []string{"next"}) {
		t.Fatalf("expected error frame to produce no fragment, got %v", got)
	}
}

func TestFeedResynchronisesAfterOversizedFrame(t *testing.T) {
	d := NewDecoder(WithMaxFrameSize(64))

	garbage := "{" + strings.Repeat("x", 100)
	got := d.Feed(garbage)
	if len(got) != 0 {
		t.Fatalf("expected no fragments from garbage, got %v", got)
	}
	if got := d.Buffered(); got > 64 {
		t.Fatalf("expected buffer to stay within bound, got %d", got)
	}

	got = d.Feed(textFrame("recovered"))
	if !slices.Equal(got, []string{"recovered"}) {
		t.Fatalf("expected decoder to recover, got %v", got)
	}
}

func TestResetDiscardsPartialObject(t *testing.T) {
	d := NewDecoder()

	d.Feed(`{"candidates":[{"content":{"parts":[{"text":"lost`)
	d.Reset()
	if got := d.Buffered(); got != 0 {
		t.Fatalf("expected empty buffer after reset, got %d", got)
	}

	got := d.Feed(textFrame("fresh"))
	if !slices.Equal(got, []string{"fresh"}) {
		t.Fatalf("expected [fresh], got %v", got)
	}
}
