// Package command parses operator input lines into haptic commands.
//
// A line has every whitespace character removed before anything else. Bare
// words (quit, help, and for the pulse variant start/stop/status) are matched
// exactly. Anything else is split on '+': the first field is a ','-separated
// hand list, the rest are numbers.
package command

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Hand selects a controller. HandInvalid stands in for an unrecognized name.
type Hand int

const (
	HandInvalid Hand = iota
	HandLeft
	HandRight
)

func (h Hand) String() string {
	switch h {
	case HandLeft:
		return "left"
	case HandRight:
		return "right"
	default:
		return "invalid"
	}
}

// ParseHand maps the exact names "left" and "right" to a Hand.
func ParseHand(s string) (Hand, bool) {
	switch s {
	case "left":
		return HandLeft, true
	case "right":
		return HandRight, true
	}
	return HandInvalid, false
}

// Variant selects the command grammar.
type Variant int

const (
	// VariantAction takes hands+seconds+frequency+amplitude one-shot commands.
	VariantAction Variant = iota
	// VariantPulse takes hands+micros+intervalMillis repeater commands and
	// the start/stop toggles.
	VariantPulse
)

func (v Variant) String() string {
	if v == VariantPulse {
		return "pulse"
	}
	return "action"
}

// ParseVariant accepts "action" or "pulse".
func ParseVariant(s string) (Variant, error) {
	switch s {
	case "action":
		return VariantAction, nil
	case "pulse":
		return VariantPulse, nil
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// Kind is what a parsed line asks for.
type Kind int

const (
	KindQuit Kind = iota + 1
	KindHelp
	KindStart
	KindStop
	KindStatus
	KindPulse
	KindRepeat
)

// Pulse is a one-shot vibration request.
type Pulse struct {
	Hands     []Hand
	Seconds   float32
	Frequency float32
	Amplitude float32
}

// Repeat is a repeater configuration request.
type Repeat struct {
	Hands          []Hand
	DurationMicros uint16
	IntervalMillis uint32
}

// Command is the result of parsing one line.
type Command struct {
	Kind   Kind
	Pulse  Pulse
	Repeat Repeat
	// Rejected lists hand tokens that were not recognized, in input order.
	Rejected []string
}

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNoHands      = errors.New("no hands")
	ErrOutOfRange   = errors.New("value out of range")
)

// NumberError reports a numeric field that failed to parse or validate.
type NumberError struct {
	Field string
	Text  string
	Err   error
}

func (e *NumberError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Text, e.Err)
}

func (e *NumberError) Unwrap() error {
	return e.Err
}

// Parser parses lines for one Variant.
type Parser struct {
	variant Variant
}

// NewParser returns a parser for v.
func NewParser(v Variant) *Parser {
	return &Parser{variant: v}
}

// Variant returns the grammar the parser accepts.
func (p *Parser) Variant() Variant {
	return p.variant
}

// StripSpace removes every whitespace character from line.
func StripSpace(line string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, line)
}

// Parse turns a raw input line into a Command.
func (p *Parser) Parse(line string) (Command, error) {
	line = StripSpace(line)

	if kind, ok := p.bare(line); ok {
		return Command{Kind: kind}, nil
	}

	fields := strings.Split(line, "+")
	want := 4
	if p.variant == VariantPulse {
		want = 3
	}
	// a single trailing "+" leaves an empty last field; drop it
	if n := len(fields); n == want+1 && fields[n-1] == "" {
		fields = fields[:want]
	}
	if len(fields) != want {
		return Command{}, ErrInvalidInput
	}

	hands, rejected := parseHands(fields[0], p.variant == VariantAction)
	if len(hands) == 0 && len(rejected) == 0 {
		return Command{}, ErrNoHands
	}

	cmd := Command{Rejected: rejected}
	if p.variant == VariantPulse {
		micros, err := parseUint(fields[1], "duration", 16)
		if err != nil {
			return Command{}, err
		}
		interval, err := parseUint(fields[2], "interval", 32)
		if err != nil {
			return Command{}, err
		}
		cmd.Kind = KindRepeat
		cmd.Repeat = Repeat{Hands: hands, DurationMicros: uint16(micros), IntervalMillis: uint32(interval)}
		return cmd, nil
	}

	seconds, err := parseFloat(fields[1], "seconds")
	if err != nil {
		return Command{}, err
	}
	frequency, err := parseFloat(fields[2], "frequency")
	if err != nil {
		return Command{}, err
	}
	amplitude, err := parseFloat(fields[3], "amplitude")
	if err != nil {
		return Command{}, err
	}
	if amplitude > 1 {
		return Command{}, &NumberError{Field: "amplitude", Text: fields[3], Err: ErrOutOfRange}
	}
	cmd.Kind = KindPulse
	cmd.Pulse = Pulse{Hands: hands, Seconds: seconds, Frequency: frequency, Amplitude: amplitude}
	return cmd, nil
}

func (p *Parser) bare(line string) (Kind, bool) {
	switch line {
	case "quit":
		return KindQuit, true
	case "help":
		return KindHelp, true
	}
	if p.variant != VariantPulse {
		return 0, false
	}
	switch line {
	case "start":
		return KindStart, true
	case "stop":
		return KindStop, true
	case "status":
		return KindStatus, true
	}
	return 0, false
}

// parseHands splits a hand list. Empty tokens are skipped. Unknown names are
// returned in rejected and, when keepInvalid is set, also kept in the hand
// list as HandInvalid.
func parseHands(field string, keepInvalid bool) (hands []Hand, rejected []string) {
	for _, tok := range strings.Split(field, ",") {
		if tok == "" {
			continue
		}
		h, ok := ParseHand(tok)
		if !ok {
			rejected = append(rejected, tok)
			if !keepInvalid {
				continue
			}
		}
		hands = append(hands, h)
	}
	return hands, rejected
}

func parseFloat(text, field string) (float32, error) {
	v, err := strconv.ParseFloat(text, 32)
	if err != nil {
		return 0, &NumberError{Field: field, Text: text, Err: errUnwrapNum(err)}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, &NumberError{Field: field, Text: text, Err: ErrOutOfRange}
	}
	return float32(v), nil
}

func parseUint(text, field string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(text, 10, bits)
	if err != nil {
		return 0, &NumberError{Field: field, Text: text, Err: errUnwrapNum(err)}
	}
	return v, nil
}

// errUnwrapNum drops strconv's function/input prefix and maps range errors to
// ErrOutOfRange.
func errUnwrapNum(err error) error {
	var ne *strconv.NumError
	if errors.As(err, &ne) {
		if errors.Is(ne.Err, strconv.ErrRange) {
			return ErrOutOfRange
		}
		return ne.Err
	}
	return err
}
