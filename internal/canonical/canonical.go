// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

// Package canonical derives stable identity keys for tracks and artists.
//
// Streaming metadata is noisy: the same recording appears as "Highway Star",
// "Highway Star (Remastered 2012)", "Highway Star - Live at the NEC", and so
// on. Normalize strips these variant annotations through a fixed, ordered set
// of pattern rules so that every variant of a recording collapses to one key.
//
// All functions are pure and total: empty input yields an empty (or
// fallback) key, and normalizing an already-normalized string is a no-op.
package canonical

import (
	"regexp"
	"strings"
)

// Pattern rules, applied in order. Order matters: dash suffixes must go
// before year stripping ("Song - 2004 Remastered Edition" would otherwise
// lose its year and stop matching the dash rule).
var (
	// Dash-separated suffixes: "Song - Radio Edit", "Song - 2004 Remastered Edition".
	dashSuffixRe = regexp.MustCompile(`(?i)\s+-\s+(` +
		`\d{4}\s+(remaster(ed)?(\s+edition)?|mix|version)|` +
		`remaster(ed)?(\s+\d{4}|\s+edition)?|re-master(ed)?|` +
		`radio\s+edit|remix|extended|single|` +
		`(early\s+)?demo|early\s+take|take\s+\d+|` +
		`(\w+\s+)*(instrumental|demo|take|rehearsal|rough)|` +
		`(studio\s+)?(guide\s+vocal\s+)?(instrumental\s+)?rough|` +
		`sessions?(\s+\w+)*\s*((&|and)\s*)?outtakes?|outtakes?|` +
		`alternate\s+mix|` +
		`(\w+\s+)+mix|` +
		`live(\s+at\s+\w+.*)?|at\s+\w+.*|` +
		`mono(\s*/\s*remastered.*)?|stereo|` +
		`instrumental|acoustic(\s+\w+)*|` +
		`official\s+(music\s+)?video|music\s+video|` +
		`official\s+(hd|4k|animated)?\s*video|` +
		`(official\s+)?lyric\s+video|` +
		`(hd|4k)\s+video|visuali[sz]er|official\s+audio|` +
		`shortened\s+edit|vocal\s+version|` +
		`from\s+.+` +
		`).*$`)

	// Parenthetical remaster annotations: "(Remastered)", "[2012 Remaster]".
	remasterRe = regexp.MustCompile(`(?i)\s*[(\[]` +
		`(remaster(ed)?|re-master(ed)?|` +
		`\d{4}\s+remaster(ed)?|` +
		`remaster(ed)?\s+\d{4})` +
		`[)\]]`)

	// Live annotations: "(Live)", "(Live at Wembley 1986)".
	liveRe = regexp.MustCompile(`(?i)\s*[(\[]` +
		`(live|live\s+at|live\s+from|live\s+in|live\s+on|` +
		`live\s+\d{4}|live\s+version|live\s+recording)` +
		`.*?[)\]]`)

	// Version/mix/edit annotations: "(Radio Edit)", "(Extended Mix)".
	versionRe = regexp.MustCompile(`(?i)\s*[(\[]` +
		`(.*?\s+version|.*?\s+mix|.*?\s+edit|.*?\s+remix|` +
		`.*?\s+take|single\s+version|album\s+version|radio\s+edit|` +
		`extended\s+(version|mix|edit)?|remix)` +
		`[)\]]`)

	// Explicit/clean markers: "(Explicit)".
	explicitRe = regexp.MustCompile(`(?i)\s*[(\[](explicit|clean|censored)[)\]]`)

	// Audio format annotations: "(Mono)", "(Original Stereo)".
	audioFormatRe = regexp.MustCompile(`(?i)\s*[(\[]` +
		`(stereo|mono|stereo\s+mix|mono\s+mix|` +
		`stereo\s+version|mono\s+version|` +
		`original\s+stereo|original\s+mono|` +
		`true\s+stereo|simulated\s+stereo)` +
		`[)\]]`)

	// Demo/take/video annotations, possibly with a leading title prefix like
	// "Agent Elvis - " inside the brackets.
	demoTakeRe = regexp.MustCompile(`(?i)\s*[(\[]` +
		`(` +
		`demo|early\s+demo|` +
		`take\s+\d+|early\s+take|` +
		`instrumental|acoustic|` +
		`(.*\s*-\s*)?(official\s+)?(music\s+)?video|` +
		`(.*\s*-\s*)?(official\s+)?(hd|4k|animated\s+music|animated)?\s*video|` +
		`(.*\s*-\s*)?(official\s+)?lyric\s+video|` +
		`(.*\s*-\s*)?visuali[sz]er|` +
		`(.*\s*-\s*)?official\s+audio|` +
		`outtakes?|sessions?|` +
		`alternate|` +
		`dub` +
		`)` +
		`[)\]]`)

	// Featured-artist suffixes: "(feat. X)", "ft. X", "with X".
	featRe = regexp.MustCompile(`(?i)\s*[(\[]?` +
		`(feat\.?|ft\.?|featuring|with|vs\.?|versus)` +
		`.*?[)\]]?$`)

	// Bare four-digit years, bracketed or not.
	yearRe = regexp.MustCompile(`\s*[(\[]?\d{4}[)\]]?\s*`)

	// Trailing version words without a separator: "Song Name demo".
	trailingSuffixRe = regexp.MustCompile(`(?i)\s+(` +
		`demo|` +
		`take\s+\d+|` +
		`instrumental|` +
		`official\s+(music\s+)?video|` +
		`(official\s+)?(hd|4k|animated)\s+video|` +
		`(official\s+)?lyric\s+video|` +
		`(official\s+)?visuali[sz]er|` +
		`official\s+audio|` +
		`at\s+\w+(\s+\w+)*|` +
		`mono|stereo|` +
		`excerpt\s+\d+|` +
		`dub` +
		`)$`)

	// Everything except letters, digits, whitespace, and hyphens
	// (hyphens kept so "hip-hop" survives).
	punctuationRe = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)

	whitespaceRe = regexp.MustCompile(`\s+`)

	musicVideoRe = regexp.MustCompile(`(?i)(music\s+video|official\s+video|video\s+clip|` +
		`visuali[sz]er|lyric\s+video|official\s+audio)`)
)

// Normalize lowercases the input and strips variant annotations
// (remaster/live/version/demo/video/featuring/year) plus punctuation, then
// collapses whitespace. It is idempotent and never fails.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	text = strings.TrimSpace(strings.ToLower(text))

	// Dash suffixes first, before year removal breaks them.
	text = dashSuffixRe.ReplaceAllString(text, "")

	text = remasterRe.ReplaceAllString(text, "")
	text = liveRe.ReplaceAllString(text, "")
	text = versionRe.ReplaceAllString(text, "")
	text = explicitRe.ReplaceAllString(text, "")
	text = audioFormatRe.ReplaceAllString(text, "")
	text = demoTakeRe.ReplaceAllString(text, "")
	text = featRe.ReplaceAllString(text, "")
	text = yearRe.ReplaceAllString(text, "")

	text = trailingSuffixRe.ReplaceAllString(text, "")

	text = punctuationRe.ReplaceAllString(text, "")

	// A second dash pass catches cases exposed by punctuation removal,
	// e.g. "song - (instrumental" becoming "song - instrumental".
	text = dashSuffixRe.ReplaceAllString(text, "")

	text = whitespaceRe.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}

// TrackKey derives the canonical identity key for a recording from its track
// and artist names, formatted "normalized_track|normalized_artist". When
// normalization strips a part down to nothing, the lowercased original is
// used so the key stays deterministic and non-empty for non-empty input.
func TrackKey(trackName, artistName string) string {
	track := Normalize(trackName)
	artist := Normalize(artistName)

	if track == "" {
		track = strings.TrimSpace(strings.ToLower(trackName))
	}
	if artist == "" {
		artist = strings.TrimSpace(strings.ToLower(artistName))
	}

	return track + "|" + artist
}

// ArtistKey derives the canonical identity key for an artist.
func ArtistKey(artistName string) string {
	normalized := Normalize(artistName)
	if normalized == "" {
		normalized = strings.TrimSpace(strings.ToLower(artistName))
	}
	return normalized
}

// IsMusicVideo reports whether a track name indicates a music-video upload
// rather than the studio recording.
func IsMusicVideo(trackName string) bool {
	if trackName == "" {
		return false
	}
	return musicVideoRe.MatchString(trackName)
}
