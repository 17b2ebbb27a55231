package exporter

import "github.com/genricoloni/nowplaying/internal/domain"

// Multi fans an export out to several sinks in order
type Multi []domain.Exporter

// Export forwards s to every sink
func (m Multi) Export(s domain.MediaState) {
	for _, e := range m {
		if e != nil {
			e.Export(s)
		}
	}
}
