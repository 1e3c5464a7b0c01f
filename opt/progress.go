// progress.go - Fortschrittsanzeige fuer Epochen
// Enthaelt: ProgressBar mit Update als EpochCallback
package opt

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"
)

var progressGlyphs = []string{"█", "▉", "▊", "▋", "▌", "▍", "▎", "▏"}

const progressCells = 8

// ProgressBar schreibt eine einzeilige Fortschrittsanzeige mit Verlust,
// Genauigkeit, Laufzeit und Restzeit nach w
type ProgressBar struct {
	mu  sync.Mutex
	w   io.Writer
	buf strings.Builder
}

// NewProgressBar erstellt eine Fortschrittsanzeige, die nach w schreibt
func NewProgressBar(w io.Writer) *ProgressBar {
	return &ProgressBar{w: w}
}

// bar gibt die Zellen des Balkens fuer ibatch von ibatchMax zurueck
func bar(ibatch, ibatchMax int64) string {
	var sb strings.Builder
	for j := range int64(progressCells) {
		glyph := " "
		for k, g := range progressGlyphs {
			step := int64(progressCells - k)
			if ibatchMax*(progressCells*j+step)/progressCells < progressCells*ibatch {
				glyph = g
				break
			}
		}
		sb.WriteString(glyph)
	}
	return sb.String()
}

func clock(d time.Duration) (h, m, s int64) {
	secs := int64(d / time.Second)
	return secs / 3600, secs / 60 % 60, secs % 60
}

// Update zeichnet die Anzeige neu und beendet sie nach der letzten Batch mit
// einem Zeilenumbruch
func (p *ProgressBar) Update(train bool, c *Context, ds *Dataset, result *Result, ibatch, ibatchMax int64, start time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf.Reset()
	if train {
		p.buf.WriteString("train: ")
	} else {
		p.buf.WriteString("val:   ")
	}

	p.buf.WriteString("[")
	p.buf.WriteString(bar(ibatch, ibatchMax))
	p.buf.WriteString("]")

	loss, lossUnc := math.NaN(), math.NaN()
	accuracy, accuracyUnc := math.NaN(), math.NaN()
	if result != nil {
		loss, lossUnc = result.Loss()
		accuracy, accuracyUnc = result.Accuracy()
	}

	batchSize := c.Inputs().Ne[1]
	elapsed := time.Since(start)
	eta := time.Duration(0)
	if ibatch > 0 {
		eta = elapsed / time.Duration(ibatch) * time.Duration(ibatchMax-ibatch)
	}

	th, tm, ts := clock(elapsed)
	eh, em, es := clock(eta)

	fmt.Fprintf(&p.buf, " data=%07d/%07d loss=%.5f±%.5f acc=%.2f±%.2f%% t=%02d:%02d:%02d ETA=%02d:%02d:%02d \r",
		ibatch*batchSize, ibatchMax*batchSize,
		loss, lossUnc,
		100*accuracy, 100*accuracyUnc,
		th, tm, ts, eh, em, es)

	if ibatch == ibatchMax {
		p.buf.WriteString("\n")
	}

	io.WriteString(p.w, p.buf.String())
}
