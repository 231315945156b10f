package ui

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/schollz/progressbar/v3"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// RangeBar tracks the ranges of one ingestion task.
type RangeBar struct {
	pb *progressbar.ProgressBar
}

// NewRangeBar draws a bar of total ranges on stderr.
func NewRangeBar(total int, label string) *RangeBar {
	pb := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(label),
		progressbar.OptionSetWidth(36),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetItsString("ranges"),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	return &RangeBar{pb: pb}
}

// Update moves the bar to current and shows the range being worked on.
func (b *RangeBar) Update(current int, rangeDescription string) {
	if rangeDescription != "" {
		b.pb.Describe(Truncate(rangeDescription, 40))
	}
	_ = b.pb.Set(current)
}

// Close completes the bar.
func (b *RangeBar) Close() {
	_ = b.pb.Finish()
	fmt.Fprintln(os.Stderr)
}

// Busy shows an animated indicator while a call of unknown length runs.
type Busy struct {
	s *spinner.Spinner
}

// StartBusy starts an indicator labeled msg.
func StartBusy(msg string) *Busy {
	s := spinner.New(spinner.CharSets[11], 120*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = "  " + msg
	s.Start()
	return &Busy{s: s}
}

// Done stops the indicator.
func (b *Busy) Done() {
	b.s.Stop()
}

// Board draws one bar per volume of a batch run.
type Board struct {
	p *mpb.Progress
}

// NewBoard creates an empty board.
func NewBoard() *Board {
	return &Board{p: mpb.New(mpb.WithOutput(os.Stderr), mpb.WithWidth(40), mpb.WithRefreshRate(150*time.Millisecond))}
}

// VolumeBar is one row of a Board.
type VolumeBar struct {
	bar *mpb.Bar
}

// Add appends a row for name with total ranges.
func (b *Board) Add(name string, total int) *VolumeBar {
	bar := b.p.New(int64(total),
		mpb.BarStyle().Lbound("[").Filler("=").Tip(">").Padding(" ").Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(name, decor.WCSyncSpaceR),
			decor.CountersNoUnit(" %d/%d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.OnAbort(
				decor.OnComplete(decor.Elapsed(decor.ET_STYLE_MMSS), " ok"),
				" stopped",
			),
		),
	)
	return &VolumeBar{bar: bar}
}

// Update moves the row to current.
func (v *VolumeBar) Update(current int) {
	v.bar.SetCurrent(int64(current))
}

// Finish marks the row complete, or stopped when ok is false.
func (v *VolumeBar) Finish(ok bool) {
	if !ok {
		v.bar.Abort(false)
		return
	}
	v.bar.SetTotal(-1, true)
}

// Wait blocks until every row is finished.
func (b *Board) Wait() {
	b.p.Wait()
}
