// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Statistics tracks bridge frame counts and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames    uint64
	ValidFrames    uint64
	FromRadio      uint64
	FromHost       uint64
	CRCErrors      uint64
	DecodeErrors   uint64
	InvalidFrames  uint64
	MissingFields  uint64
	LengthMismatch uint64
	InvalidValues  uint64
	PayloadErrors  uint64
	RadioFailures  uint64 // FAIL messages reported by the adapter

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records one decoder result: a frame with its validation errors,
// or a decode error
func (s *Statistics) Update(p *Packet, decodeErr error, validationErrors []ValidationError) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		if errors.Is(decodeErr, ErrCRCMismatch) {
			s.CRCErrors++
		} else {
			s.DecodeErrors++
		}
		return
	}

	if p.FromRadio() {
		s.FromRadio++
	} else {
		s.FromHost++
	}
	if p.Type() == MsgFail {
		s.RadioFailures++
	}

	if len(validationErrors) == 0 {
		s.ValidFrames++
		return
	}
	s.InvalidFrames++
	for _, v := range validationErrors {
		switch v.Type {
		case AnomalyMissingField:
			s.MissingFields++
		case AnomalyLengthMismatch:
			s.LengthMismatch++
		case AnomalyInvalidValue:
			s.InvalidValues++
		case AnomalyDecodeError:
			s.PayloadErrors++
		}
	}
}

func (s *Statistics) errorCount() uint64 {
	return s.CRCErrors + s.DecodeErrors + s.InvalidFrames
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.errorCount()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	percent := func(n uint64) float64 {
		if s.TotalFrames == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.TotalFrames)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== Bridge Statistics (%.0f seconds) ===\n", time.Since(s.StartTime).Seconds())
	fmt.Fprintf(&b, "Total Frames:    %8d (radio %d, host %d)\n", s.TotalFrames, s.FromRadio, s.FromHost)
	fmt.Fprintf(&b, "Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, percent(s.ValidFrames))

	if s.CRCErrors > 0 {
		fmt.Fprintf(&b, "CRC Errors:      %8d (%.1f%%)\n", s.CRCErrors, percent(s.CRCErrors))
	}
	if s.DecodeErrors > 0 {
		fmt.Fprintf(&b, "Decode Errors:   %8d (%.1f%%)\n", s.DecodeErrors, percent(s.DecodeErrors))
	}
	if s.InvalidFrames > 0 {
		fmt.Fprintf(&b, "Invalid Frames:  %8d (%.1f%%)\n", s.InvalidFrames, percent(s.InvalidFrames))
		if s.MissingFields > 0 {
			fmt.Fprintf(&b, "  Missing Fields:   %5d\n", s.MissingFields)
		}
		if s.LengthMismatch > 0 {
			fmt.Fprintf(&b, "  Length Mismatch:  %5d\n", s.LengthMismatch)
		}
		if s.InvalidValues > 0 {
			fmt.Fprintf(&b, "  Invalid Values:   %5d\n", s.InvalidValues)
		}
		if s.PayloadErrors > 0 {
			fmt.Fprintf(&b, "  Payload Errors:   %5d\n", s.PayloadErrors)
		}
	}
	if s.RadioFailures > 0 {
		fmt.Fprintf(&b, "Radio FAILs:     %8d\n", s.RadioFailures)
	}

	fmt.Fprintf(&b, "Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	fmt.Fprintf(&b, "Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	b.WriteString("=======================================\n")
	return b.String()
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
