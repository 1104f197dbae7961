package sqldb

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultDateLayout     = "2006-01-02"
	defaultDateTimeLayout = "2006-01-02 15:04:05"
)

// Formats are the date layouts of one database. Input layouts parse values
// read from it, output layouts render values written to it. Datetimes are
// interpreted in Timezone; empty means UTC.
type Formats struct {
	Timezone       string `json:"timezone" toml:"timezone" yaml:"timezone"`
	InputDate      string `json:"input_date" toml:"input_date" yaml:"input_date"`
	InputDateTime  string `json:"input_date_time" toml:"input_date_time" yaml:"input_date_time"`
	OutputDate     string `json:"output_date" toml:"output_date" yaml:"output_date"`
	OutputDateTime string `json:"output_date_time" toml:"output_date_time" yaml:"output_date_time"`
}

// Formatter converts between database strings and time.Time using Formats.
type Formatter struct {
	f   Formats
	loc *time.Location
}

func NewFormatter(f Formats) (*Formatter, error) {
	if f.Timezone == "" {
		f.Timezone = "UTC"
	}
	loc, err := time.LoadLocation(f.Timezone)
	if err != nil {
		return nil, fmt.Errorf("sqldb: timezone %q: %w", f.Timezone, err)
	}
	f.InputDate = orDefault(f.InputDate, defaultDateLayout)
	f.InputDateTime = orDefault(f.InputDateTime, defaultDateTimeLayout)
	f.OutputDate = orDefault(f.OutputDate, defaultDateLayout)
	f.OutputDateTime = orDefault(f.OutputDateTime, defaultDateTimeLayout)
	return &Formatter{f: f, loc: loc}, nil
}

func (x *Formatter) Timezone() string { return x.f.Timezone }

// ParseDate parses a date column. An empty string yields the zero time.
func (x *Formatter) ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(x.f.InputDate, s)
}

// ParseDateTime parses a datetime column in the configured timezone.
func (x *Formatter) ParseDateTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(x.f.InputDateTime, s, x.loc)
}

// FormatDate renders t as a date; the zero time renders as "".
func (x *Formatter) FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(x.f.OutputDate)
}

// FormatDateTime renders t in the configured timezone; the zero time renders as "".
func (x *Formatter) FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(x.loc).Format(x.f.OutputDateTime)
}

// Bool interprets the boolean encodings drivers return: native bools,
// 0/1 integers, and "1"/"t"/"true" text.
func (x *Formatter) Bool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b == 1
	case int:
		return b == 1
	case []byte:
		return textBool(string(b))
	case string:
		return textBool(b)
	}
	return false
}

func textBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "t", "true":
		return true
	}
	return false
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
