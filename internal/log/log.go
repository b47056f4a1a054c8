/*
Copyright (C) 2023  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package log is a thin component-tagged wrapper around the standard
// logger, in the texture of the teacher's plain fmt.Println logging
// (storage/database.go, storage/table.go) rather than a structured
// logging framework the teacher never imports.
package log

import (
	"log"
	"os"
)

var std = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)

type Tagged struct {
	tag string
}

func For(tag string) Tagged {
	return Tagged{tag: tag}
}

func (t Tagged) Printf(format string, a ...any) {
	std.Printf("["+t.tag+"] "+format, a...)
}

func (t Tagged) Println(a ...any) {
	args := append([]any{"[" + t.tag + "]"}, a...)
	std.Println(args...)
}
