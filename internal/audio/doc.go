// Package audio decodes uploaded PCM WAV recordings and splits them into
// speech chunks separated by silence. The silence threshold is relative to the
// clip's own loudness, so quiet and loud recordings split the same way.
package audio
