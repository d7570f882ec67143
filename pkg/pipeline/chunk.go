package pipeline

// ChunkKind identifies the payload variant a stage produces or accepts.
// The runner compares declared kinds at wiring time; no reflection is
// involved anywhere in the engine.
type ChunkKind string

const (
	KindText  ChunkKind = "text"
	KindBytes ChunkKind = "bytes"
)

// Metadata is the annotation bag carried by every chunk. All update helpers
// copy; a chunk that has been handed downstream is never mutated.
type Metadata struct {
	TextEncodingName string
	Annotations      map[string]string
}

// Annotation returns the value stored under key, if any.
func (m Metadata) Annotation(key string) (string, bool) {
	if m.Annotations == nil {
		return "", false
	}
	v, ok := m.Annotations[key]
	return v, ok
}

// WithAnnotation returns a copy of the metadata with key set to value.
func (m Metadata) WithAnnotation(key, value string) Metadata {
	merged := make(map[string]string, len(m.Annotations)+1)
	for k, v := range m.Annotations {
		merged[k] = v
	}
	merged[key] = value
	return Metadata{TextEncodingName: m.TextEncodingName, Annotations: merged}
}

// MergeMetadata folds the given metadata values left to right: the last
// non-empty encoding name wins and annotation maps are unioned key by key
// with later values overwriting earlier ones.
func MergeMetadata(metas ...Metadata) Metadata {
	var encoding string
	var annotations map[string]string

	for _, m := range metas {
		if m.TextEncodingName != "" {
			encoding = m.TextEncodingName
		}
		if len(m.Annotations) > 0 {
			if annotations == nil {
				annotations = make(map[string]string, len(m.Annotations))
			}
			for k, v := range m.Annotations {
				annotations[k] = v
			}
		}
	}

	return Metadata{TextEncodingName: encoding, Annotations: annotations}
}

// Chunk is one unit of streamed data: a text or byte payload plus metadata.
type Chunk struct {
	Kind  ChunkKind
	Text  string
	Bytes []byte
	Meta  Metadata
}

func TextChunk(text string, meta Metadata) Chunk {
	return Chunk{Kind: KindText, Text: text, Meta: meta}
}

func BytesChunk(b []byte, meta Metadata) Chunk {
	return Chunk{Kind: KindBytes, Bytes: b, Meta: meta}
}
