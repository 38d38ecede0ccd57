package gcp

import (
	"testing"
	"time"

	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/protobuf/types/known/durationpb"
)

func word(w string, start, end float64, conf float32) *speechpb.WordInfo {
	return &speechpb.WordInfo{
		Word:       w,
		StartTime:  durationpb.New(secs(start)),
		EndTime:    durationpb.New(secs(end)),
		Confidence: conf,
	}
}

func TestParseSpeechResponseGroupsByWindow(t *testing.T) {
	resp := &speechpb.LongRunningRecognizeResponse{Results: []*speechpb.SpeechRecognitionResult{
		{Alternatives: []*speechpb.SpeechRecognitionAlternative{{
			Transcript: "hello there",
			Words:      []*speechpb.WordInfo{word("hello", 0, 0.5, 0.9), word("there", 0.6, 1.0, 0.7)},
		}}},
		{Alternatives: []*speechpb.SpeechRecognitionAlternative{{
			Transcript: " general kenobi ",
			Words:      []*speechpb.WordInfo{word("general", 12, 12.5, 0.8), word("kenobi", 12.6, 13, 0.6)},
		}}},
	}}

	tr := parseSpeechResponse(resp, "en-US", 10)
	if tr.Text != "hello there general kenobi" {
		t.Fatalf("text: want=%q got=%q", "hello there general kenobi", tr.Text)
	}
	if len(tr.Segments) != 2 {
		t.Fatalf("segments: want=2 got=%d", len(tr.Segments))
	}
	if tr.Segments[0].Text != "hello there" || tr.Segments[1].Text != "general kenobi" {
		t.Fatalf("segment text: got=%q / %q", tr.Segments[0].Text, tr.Segments[1].Text)
	}
	if c := tr.Segments[0].Confidence; c < 0.79 || c > 0.81 {
		t.Fatalf("segment confidence: want~0.8 got=%v", c)
	}
	if d := tr.Segments[1].Duration(); d < 0.99 || d > 1.01 {
		t.Fatalf("segment duration: want~1 got=%v", d)
	}
}

func TestParseSpeechResponseEmpty(t *testing.T) {
	tr := parseSpeechResponse(nil, "en-US", 10)
	if tr.Text != "" || len(tr.Segments) != 0 {
		t.Fatalf("empty: got=%+v", tr)
	}
}

func TestInferSpeechEncoding(t *testing.T) {
	if got := inferSpeechEncoding("track.WAV"); got != speechpb.RecognitionConfig_LINEAR16 {
		t.Fatalf("wav: got=%v", got)
	}
	if got := inferSpeechEncoding("track.m4a"); got != speechpb.RecognitionConfig_ENCODING_UNSPECIFIED {
		t.Fatalf("m4a: got=%v", got)
	}
}

func secs(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
