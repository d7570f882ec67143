package pipeline

import "testing"

func TestWithAnnotationCopies(t *testing.T) {
	base := Metadata{Annotations: map[string]string{"a": "1"}}
	updated := base.WithAnnotation("b", "2")

	if _, ok := base.Annotation("b"); ok {
		t.Fatal("WithAnnotation mutated the receiver")
	}
	if v, _ := updated.Annotation("a"); v != "1" {
		t.Fatalf("existing annotation lost, got %q", v)
	}
	if v, _ := updated.Annotation("b"); v != "2" {
		t.Fatalf("new annotation missing, got %q", v)
	}
}

func TestMergeMetadataLaterWins(t *testing.T) {
	merged := MergeMetadata(
		Metadata{TextEncodingName: "UTF-8", Annotations: map[string]string{"k": "old"}},
		Metadata{Annotations: map[string]string{"k": "new", "extra": "x"}},
	)

	if merged.TextEncodingName != "UTF-8" {
		t.Fatalf("last non-empty encoding should win, got %q", merged.TextEncodingName)
	}
	if v, _ := merged.Annotation("k"); v != "new" {
		t.Fatalf("later annotation should win, got %q", v)
	}
	if v, _ := merged.Annotation("extra"); v != "x" {
		t.Fatalf("expected unioned annotation, got %q", v)
	}
}

func TestMergeMetadataEmpty(t *testing.T) {
	merged := MergeMetadata()
	if merged.TextEncodingName != "" || merged.Annotations != nil {
		t.Fatalf("expected zero metadata, got %+v", merged)
	}
}
