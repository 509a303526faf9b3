package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"dubhub/internal/model"
	"dubhub/internal/pricing"
)

func TestHandlerCostsFollowPricing(t *testing.T) {
	p := &fakeProvider{}
	user := uuid.New()
	cost := func(h Handler, d JobData) int64 {
		t.Helper()
		got, err := h.Cost(d)
		if err != nil {
			t.Fatalf("%s cost: %v", h.Type(), err)
		}
		return got
	}

	dub := NewDubbingHandler(p, "sieve/dubbing")
	if got := cost(dub, JobData{UserID: user, Languages: []string{"es", "fr", "de"}, DurationSeconds: 100}); got != 60 {
		t.Fatalf("dubbing cost = %d, want 60", got)
	}
	// Duplicate languages are charged once.
	if got := cost(dub, JobData{UserID: user, Languages: []string{"es", "ES ", ""}, DurationSeconds: 60}); got != 10 {
		t.Fatalf("dubbing cost with duplicates = %d, want 10", got)
	}

	subs := NewSubtitlesHandler(p, "sieve/autocaption")
	if cost(subs, JobData{}) != 5 || cost(subs, JobData{Premium: true}) != 10 {
		t.Fatalf("unexpected subtitles costs")
	}

	video := NewVideoGenerationHandler(p, "v1")
	if got := cost(video, JobData{DurationSeconds: 5}); got != 13 {
		t.Fatalf("video cost = %d, want 13", got)
	}
}

func TestHandlersRejectUnpriceableDurations(t *testing.T) {
	p := &fakeProvider{}
	user := uuid.New()
	cases := map[string]struct {
		h    Handler
		data JobData
	}{
		"dubbing too long":   {NewDubbingHandler(p, "d"), JobData{UserID: user, SourceURL: "x", Languages: []string{"es"}, DurationSeconds: 1e19}},
		"subtitles too long": {NewSubtitlesHandler(p, "s"), JobData{UserID: user, SourceURL: "x", DurationSeconds: pricing.MaxDurationSeconds + 1}},
		"video too long":     {NewVideoGenerationHandler(p, "v"), JobData{UserID: user, Prompt: "a cat", DurationSeconds: 1e15}},
	}
	for name, tc := range cases {
		if err := tc.h.Validate(tc.data); !errors.Is(err, ErrInvalidJobData) {
			t.Fatalf("%s: expected ErrInvalidJobData, got %v", name, err)
		}
	}

	langs := make([]string, pricing.MaxLanguages+1)
	for i := range langs {
		langs[i] = fmt.Sprintf("l%d", i)
	}
	dub := NewDubbingHandler(p, "d")
	if err := dub.Validate(JobData{UserID: user, SourceURL: "x", Languages: langs, DurationSeconds: 60}); !errors.Is(err, ErrInvalidJobData) {
		t.Fatalf("expected ErrInvalidJobData for too many languages, got %v", err)
	}
}

func TestHandlerMetadataAndSubmit(t *testing.T) {
	p := &fakeProvider{}
	h := NewDubbingHandler(p, "sieve/dubbing")
	data := JobData{UserID: uuid.New(), SourceURL: "https://u/v.mp4", Filename: "v.mp4", Languages: []string{"es"}, DurationSeconds: 30}

	raw, err := h.Metadata(data)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if meta["filename"] != "v.mp4" || meta["model"] != "sieve/dubbing" {
		t.Fatalf("unexpected metadata %v", meta)
	}

	if _, err := h.Submit(context.Background(), data); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := p.submitted[0].Input["target_languages"]; len(got.([]string)) != 1 {
		t.Fatalf("unexpected input %v", p.submitted[0].Input)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(NewSubtitlesHandler(&fakeProvider{}, "f"))
	if _, err := reg.Get(model.JobTypeDubbing); !errors.Is(err, ErrUnknownJobType) {
		t.Fatalf("expected ErrUnknownJobType, got %v", err)
	}
	if types := reg.Types(); len(types) != 1 || types[0] != model.JobTypeSubtitles {
		t.Fatalf("unexpected types %v", types)
	}
}
