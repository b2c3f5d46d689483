// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/chorebit/satpayout/pkg/unit"
	"github.com/stretchr/testify/require"
)

// TestAmountFlag checks the accepted amount notations.
func TestAmountFlag(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		value   string
		want    btcutil.Amount
		wantErr bool
	}{
		{value: "1000", want: 1000},
		{value: "546 sat", want: 546},
		{value: "0.0001 BTC", want: 10_000},
		{value: "-5", wantErr: true},
		{value: "-0.1 BTC", wantErr: true},
		{value: "ten", wantErr: true},
	}

	for _, tc := range testCases {
		var flag AmountFlag
		err := flag.UnmarshalFlag(tc.value)
		if tc.wantErr {
			require.Error(t, err, tc.value)
			continue
		}
		require.NoError(t, err, tc.value)
		require.Equal(t, tc.want, flag.Amount, tc.value)
	}

	s, err := NewAmountFlag(2_500).MarshalFlag()
	require.NoError(t, err)
	require.Equal(t, "2500", s)
}

// TestFeeRateFlag checks the accepted fee rate notations.
func TestFeeRateFlag(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		value   string
		want    unit.SatPerVByte
		wantErr bool
	}{
		{
			value: "2",
			want:  unit.NewSatPerVByte(2, unit.NewVByte(1)),
		},
		{
			value: "1.5 sat/vB",
			want:  unit.NewSatPerVByte(3, unit.NewVByte(2)),
		},
		{value: "0", wantErr: true},
		{value: "-1", wantErr: true},
		{value: "fast", wantErr: true},
	}

	for _, tc := range testCases {
		var flag FeeRateFlag
		err := flag.UnmarshalFlag(tc.value)
		if tc.wantErr {
			require.Error(t, err, tc.value)
			continue
		}
		require.NoError(t, err, tc.value)
		require.True(t, tc.want.Equal(flag.SatPerVByte), tc.value)
	}

	s, err := NewFeeRateFlag(2).MarshalFlag()
	require.NoError(t, err)
	require.Equal(t, "2.000", s)
}

// TestExplicitString checks that defaults only replace unset values.
func TestExplicitString(t *testing.T) {
	t.Parallel()

	unset := NewExplicitString("a")
	unset.SetDefault("b")
	require.False(t, unset.ExplicitlySet())
	require.Equal(t, "b", unset.Value)

	set := NewExplicitString("a")
	require.NoError(t, set.UnmarshalFlag("c"))
	set.SetDefault("b")
	require.True(t, set.ExplicitlySet())
	require.Equal(t, "c", set.Value)
}

// TestFileExists checks existing and missing paths.
func TestFileExists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "payout.db")

	exists, err := FileExists(path)
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, os.WriteFile(path, nil, 0600))
	exists, err = FileExists(path)
	require.NoError(t, err)
	require.True(t, exists)
}

// TestNormalizeAddress checks that a default port is added when missing.
func TestNormalizeAddress(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		addr    string
		want    string
		wantErr bool
	}{
		{addr: "localhost", want: "localhost:8335"},
		{addr: "127.0.0.1:9000", want: "127.0.0.1:9000"},
		{addr: "::1", want: "[::1]:8335"},
		{addr: "[::1]:9000", want: "[::1]:9000"},
		{addr: "a:b:c]", wantErr: true},
	}

	for _, tc := range testCases {
		got, err := NormalizeAddress(tc.addr, "8335")
		if tc.wantErr {
			require.Error(t, err, tc.addr)
			continue
		}
		require.NoError(t, err, tc.addr)
		require.Equal(t, tc.want, got, tc.addr)
	}
}
