// ABOUTME: Audio decoder package for the play command inputs
// ABOUTME: Streams interleaved PCM from MP3, FLAC, Ogg Opus, raw PCM and a test tone
// Package decode turns encoded audio into interleaved PCM.
//
// Every Decoder is an io.Reader of PCM bytes in the format it reports.
// Convert changes the sample type; channel count and sample rate are
// passed through unchanged.
//
// Example:
//
//	dec, err := decode.Open("song.flac", audio.Format{})
//	if err != nil {
//		return err
//	}
//	defer dec.Close()
//	dec = decode.Convert(dec, audio.SampleTypeFloat32)
package decode
