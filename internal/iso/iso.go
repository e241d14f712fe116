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

// Package iso inspects guest tooling ISO images on the host.
package iso

import (
	"errors"
	"fmt"
	"strings"

	diskfs "github.com/diskfs/go-diskfs"
)

// WindowsInstallerName is the Windows installer shipped at the ISO root.
const WindowsInstallerName = "VBoxWindowsAdditions.exe"

var (
	ErrInstallerNotFound = errors.New("installer not found in ISO root")

	errOpenISO     = errors.New("failed to open ISO image")
	errReadFS      = errors.New("failed to read ISO filesystem")
	errReadRootDir = errors.New("failed to list ISO root directory")
)

// VerifyWindowsInstaller checks that the ISO at path carries the Windows
// installer at its root.
func VerifyWindowsInstaller(path string) error {
	return Contains(path, WindowsInstallerName)
}

// Contains checks that the ISO at path has a file called name at its root.
// ISO9660 names are compared case-insensitively and without version suffix.
func Contains(path, name string) error {
	names, err := RootEntries(path)
	if err != nil {
		return err
	}

	want := NormalizeName(name)
	for _, n := range names {
		if NormalizeName(n) == want {
			return nil
		}
	}

	return errors.Join(fmt.Errorf("iso=%s name=%s", path, name), ErrInstallerNotFound)
}

// RootEntries lists the names at the root of the ISO at path.
func RootEntries(path string) ([]string, error) {
	disk, err := diskfs.Open(path, diskfs.WithOpenMode(diskfs.ReadOnly))
	if err != nil {
		return nil, errors.Join(err, fmt.Errorf("iso=%s", path), errOpenISO)
	}
	defer disk.Close()

	// Partition 0 is the whole disk, where the ISO9660 filesystem lives.
	fs, err := disk.GetFilesystem(0)
	if err != nil {
		return nil, errors.Join(err, fmt.Errorf("iso=%s", path), errReadFS)
	}

	entries, err := fs.ReadDir("/")
	if err != nil {
		return nil, errors.Join(err, fmt.Errorf("iso=%s", path), errReadRootDir)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	return names, nil
}

// NormalizeName maps an ISO9660 file identifier to a comparable form:
// "VBOXWINDOWSADDITIONS.EXE;1" becomes "vboxwindowsadditions.exe".
func NormalizeName(name string) string {
	if i := strings.LastIndexByte(name, ';'); i >= 0 {
		name = name[:i]
	}

	return strings.ToLower(strings.TrimSuffix(name, "."))
}
