/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package powershell formats scripts for execution by a remote powershell.exe.
package powershell

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// Executable is invoked on the guest; it is on the PATH of every supported
// Windows release.
const Executable = "powershell.exe"

const encodedCommandFlag = "-EncodedCommand"

// preamble keeps progress records out of the output stream and turns
// non-terminating errors into a non-zero exit status.
const preamble = "$ProgressPreference = 'SilentlyContinue'; $ErrorActionPreference = 'Stop'; "

var (
	errNotEncodedCommand = errors.New("not an encoded powershell command line")

	quoteReplacer = strings.NewReplacer("`", "``", `"`, "`\"")
	utf16le       = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
)

// Quote wraps s in an expandable string: quotes and backticks are escaped
// while $env: references are still resolved by the guest.
func Quote(s string) string {
	return `"` + quoteReplacer.Replace(s) + `"`
}

// Encode returns a command line running script through -EncodedCommand, which
// sidesteps quoting by the remote login shell.
func Encode(script string) (string, error) {
	encoded, err := utf16le.NewEncoder().String(preamble + script)
	if err != nil {
		return "", fmt.Errorf("encoding powershell script as UTF-16LE: %w", err)
	}

	return strings.Join([]string{
		Executable,
		"-NoLogo",
		"-NoProfile",
		"-NonInteractive",
		"-ExecutionPolicy", "Bypass",
		encodedCommandFlag,
		base64.StdEncoding.EncodeToString([]byte(encoded)),
	}, " "), nil
}

// Decode reverses Encode and returns the script without the preamble.
func Decode(commandLine string) (string, error) {
	_, payload, ok := strings.Cut(commandLine, encodedCommandFlag+" ")
	if !ok {
		return "", errNotEncodedCommand
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return "", fmt.Errorf("decoding powershell command: %w", err)
	}

	script, err := utf16le.NewDecoder().String(string(raw))
	if err != nil {
		return "", fmt.Errorf("decoding UTF-16LE powershell script: %w", err)
	}

	return strings.TrimPrefix(script, preamble), nil
}
