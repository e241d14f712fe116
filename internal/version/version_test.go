//go:build unit

// Copyright 2024 Alexandre Mahdhaoui
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package version_test

import (
	"testing"

	"github.com/alexandremahdhaoui/vbguest/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFind(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect string
	}{
		{name: "embedded", input: "Product Version: 1.2.3 something", expect: "1.2.3"},
		{name: "first of many", input: "7.0.10 and 6.1.0", expect: "7.0.10"},
		{name: "four parts", input: "6.1.26.145957", expect: "6.1.26"},
		{name: "revision suffix", input: "6.1.26r145957", expect: "6.1.26"},
		{name: "no triplet", input: "Product Version: 1.2", expect: ""},
		{name: "empty", input: "", expect: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, version.String(version.Find(tt.input)))
		})
	}
}

func TestFind_NoMatchIsNil(t *testing.T) {
	assert.Nil(t, version.Find("no version here"))
}

func TestFindPrefix(t *testing.T) {
	assert.Equal(t, "6.1.26", version.String(version.FindPrefix("6.1.26r145957\r\n")))
	assert.Equal(t, "7.0.0", version.String(version.FindPrefix("banner\n  7.0.0\n")))
	assert.Nil(t, version.FindPrefix("VBoxService 6.1.26"))
}

func TestEqual(t *testing.T) {
	a := version.Find("6.0.0")
	b := version.Find("v6.0.0")
	c := version.Find("6.1.0")
	require.NotNil(t, a)
	require.NotNil(t, b)

	assert.True(t, version.Equal(a, b))
	assert.False(t, version.Equal(a, c))
	assert.False(t, version.Equal(a, nil))
	assert.False(t, version.Equal(nil, nil))
}
