// MODUL: embedding
// ZWECK: Kompakte Repraesentation von Encoder-Embeddings
// INPUT: float32-Vektoren des Encoders
// OUTPUT: f16-gepackte Embeddings mit verlustbehafteter Rueckkonvertierung
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: github.com/x448/float16 (extern)
// HINWEISE: Halbierte Speicherkosten pro gecachtem Embedding

package media

import (
	"math"

	"github.com/x448/float16"
)

// Embedding ist ein f16-gepackter Embedding-Vektor.
type Embedding struct {
	data       []float16.Float16
	normalized bool
}

// NewEmbedding packt einen float32-Vektor.
func NewEmbedding(values []float32) Embedding {
	data := make([]float16.Float16, len(values))
	for i, v := range values {
		data[i] = float16.Fromfloat32(v)
	}
	return Embedding{data: data}
}

// ToFloat32 entpackt das Embedding in einen neuen Slice.
func (e Embedding) ToFloat32() []float32 {
	out := make([]float32, len(e.data))
	for i, v := range e.data {
		out[i] = v.Float32()
	}
	return out
}

// Dim gibt die Dimension zurueck.
func (e Embedding) Dim() int {
	return len(e.data)
}

// IsNormalized meldet ob das Embedding L2-normalisiert wurde.
func (e Embedding) IsNormalized() bool {
	return e.normalized
}

// Normalized gibt eine L2-normalisierte Kopie zurueck.
func (e Embedding) Normalized() Embedding {
	values := e.ToFloat32()

	var norm float64
	for _, v := range values {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)

	if norm > 0 {
		for i := range values {
			values[i] = float32(float64(values[i]) / norm)
		}
	}

	out := NewEmbedding(values)
	out.normalized = true
	return out
}

// CosineSimilarity berechnet die Cosine Similarity zweier Embeddings.
// Ungleiche Dimensionen ergeben 0.
func (e Embedding) CosineSimilarity(other Embedding) float32 {
	if len(e.data) != len(other.data) {
		return 0
	}

	var dot, normA, normB float64
	for i := range e.data {
		a := float64(e.data[i].Float32())
		b := float64(other.data[i].Float32())
		dot += a * b
		normA += a * a
		normB += b * b
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
