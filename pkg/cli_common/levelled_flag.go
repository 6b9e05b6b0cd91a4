package clicommon

import (
	"strconv"

	"github.com/spf13/pflag"
)

// LevelledFlag is a counter flag: each `-v` raises the level by one, `--verbose=false` lowers it and
// `--verbose=N` sets it.
type LevelledFlag int

var _ pflag.Value = (*LevelledFlag)(nil)

func (f *LevelledFlag) Set(s string) error {
	if on, err := strconv.ParseBool(s); err == nil {
		switch {
		case on:
			*f++
		case *f > 0:
			*f--
		}
		return nil
	}
	level, err := strconv.Atoi(s)
	if err != nil || level < 0 {
		return &strconv.NumError{Func: "Set", Num: s, Err: strconv.ErrSyntax}
	}
	*f = LevelledFlag(level)
	return nil
}

func (f *LevelledFlag) Type() string {
	return "level"
}

func (f *LevelledFlag) String() string {
	return strconv.Itoa(int(*f))
}
