package domain

import (
	"strings"
	"testing"
)

func TestCreateArtworkRequestValidate(t *testing.T) {
	steps := 30
	valid := CreateArtworkRequest{
		ArtworkMeta: ArtworkMeta{
			Title:  "Neon harbor",
			Prompt: "a harbor at night, neon reflections",
			Steps:  &steps,
		},
		FileName: "harbor.png",
		MIMEType: "image/png",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid request, got error: %v", err)
	}

	invalid := CreateArtworkRequest{}
	if err := invalid.Validate(); err == nil {
		t.Fatal("expected validation error for empty request")
	}

	missingPrompt := valid
	missingPrompt.Prompt = "   "
	if err := missingPrompt.Validate(); err == nil {
		t.Fatal("expected validation error for blank prompt")
	}

	zero := 0
	badSteps := valid
	badSteps.Steps = &zero
	if err := badSteps.Validate(); err == nil {
		t.Fatal("expected validation error for non-positive steps")
	}

	notImage := valid
	notImage.MIMEType = "application/pdf"
	if err := notImage.Validate(); err == nil {
		t.Fatal("expected validation error for non-image upload")
	}

	longTitle := valid
	longTitle.Title = strings.Repeat("长", MaxTitleRunes+1)
	if err := longTitle.Validate(); err == nil {
		t.Fatal("expected validation error for long title")
	}

	tooManyTags := valid
	for i := 0; i <= MaxTags; i++ {
		tooManyTags.Tags = append(tooManyTags.Tags, strings.Repeat("t", i+1))
	}
	if err := tooManyTags.Validate(); err == nil {
		t.Fatal("expected validation error for too many tags")
	}
}

func TestCleanTags(t *testing.T) {
	got := CleanTags([]string{" Landscape", "landscape", "", "SDXL ", "portrait"})
	want := []string{"landscape", "sdxl", "portrait"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestListFilterNormalize(t *testing.T) {
	f := ListFilter{Tag: " Anime ", Limit: 500, Offset: -3}.Normalize()
	if f.Tag != "anime" {
		t.Fatalf("expected lowercased tag, got %q", f.Tag)
	}
	if f.Limit != MaxListLimit {
		t.Fatalf("expected limit clamped to %d, got %d", MaxListLimit, f.Limit)
	}
	if f.Offset != 0 {
		t.Fatalf("expected offset clamped to 0, got %d", f.Offset)
	}

	if got := (ListFilter{}).Normalize().Limit; got != DefaultListLimit {
		t.Fatalf("expected default limit %d, got %d", DefaultListLimit, got)
	}
}
