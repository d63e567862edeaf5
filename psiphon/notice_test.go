/*
 * Copyright (c) 2026, Psiphon Inc.
 * All rights reserved.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package psiphon

import (
	"bytes"
	std_errors "errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoticeReceiver(t *testing.T) {

	var received []string
	receiver := NewNoticeReceiver(func(notice []byte) {
		received = append(received, string(notice))
	})

	_, err := receiver.Write([]byte(`{"a":1}` + "\n" + `{"b":`))
	require.NoError(t, err)
	_, err = receiver.Write([]byte(`2}` + "\n" + `{"c":3}` + "\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`, `{"c":3}`}, received)
}

func TestDiagnosticNotices(t *testing.T) {

	var buffer bytes.Buffer
	SetNoticeOutput(&buffer)
	defer SetNoticeOutput(io.Discard)

	SetEmitDiagnosticNotices(false)
	NoticeInfo("diagnostic")
	NoticeListeningSocksProxyPort(1080)
	assert.NotContains(t, buffer.String(), "diagnostic")

	noticeType, payload, err := GetNotice(bytes.TrimSpace(buffer.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "ListeningSocksProxyPort", noticeType)
	assert.Equal(t, float64(1080), payload["port"])

	buffer.Reset()
	SetEmitDiagnosticNotices(true)
	defer SetEmitDiagnosticNotices(false)
	NoticeTransportState("SSH", TRANSPORT_STATE_PREPARING)

	noticeType, payload, err = GetNotice(bytes.TrimSpace(buffer.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "TransportState", noticeType)
	assert.Equal(t, "preparing", payload["state"])
}

func TestUpstreamProxyErrorRepeats(t *testing.T) {

	var buffer bytes.Buffer
	SetNoticeOutput(&buffer)
	defer SetNoticeOutput(io.Discard)

	for i := 0; i < 5; i++ {
		NoticeUpstreamProxyError(std_errors.New("dial: connection refused"))
	}
	NoticeUpstreamProxyError(std_errors.New("dial: proxy authentication required"))

	lines := strings.Split(strings.TrimSpace(buffer.String()), "\n")

	// The first error and one repeat, then the new error.
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], `"repeats":1`)
	assert.Contains(t, lines[2], "proxy authentication required")
}

func TestNoticeFiles(t *testing.T) {

	noticeFilename := filepath.Join(t.TempDir(), "notices")

	var extraOutput bytes.Buffer
	err := SetNoticeFiles(noticeFilename, 1, &extraOutput)
	require.NoError(t, err)
	defer SetNoticeOutput(io.Discard)

	NoticeExiting()

	contents, err := os.ReadFile(noticeFilename)
	require.NoError(t, err)
	assert.Contains(t, string(contents), `"noticeType":"Exiting"`)
	assert.Contains(t, extraOutput.String(), `"noticeType":"Exiting"`)
}

func TestGetBuildInfo(t *testing.T) {
	buildInfo := GetBuildInfo()
	assert.NotEmpty(t, buildInfo.GoVersion)
}
