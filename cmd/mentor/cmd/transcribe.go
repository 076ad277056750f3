package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Toobanaz/ai-audience-mentor/internal/audio"
	"github.com/Toobanaz/ai-audience-mentor/internal/config"
	"github.com/Toobanaz/ai-audience-mentor/internal/stt"
	"github.com/Toobanaz/ai-audience-mentor/internal/transcript"
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <file.wav>",
	Short: "Segment and transcribe one recording",
	Args:  cobra.ExactArgs(1),
	RunE:  runTranscribe,
}

func init() {
	rootCmd.AddCommand(transcribeCmd)
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	asm, err := newAssembler(cfg, nil)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	text, err := asm.TranscribeAudio(ctx, data)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}

func newAssembler(cfg config.Config, publish transcript.PublishFunc) (*transcript.Assembler, error) {
	client, err := stt.NewClient(stt.Config{
		BaseURL:    cfg.STTBaseURL,
		APIKey:     cfg.STTAPIKey,
		Model:      cfg.STTModel,
		Language:   cfg.STTLanguage,
		APIVersion: cfg.STTAPIVersion,
		Timeout:    cfg.STTTimeout,
	})
	if err != nil {
		return nil, err
	}
	seg := audio.NewSegmenter(audio.SegmenterConfig{
		MinSilence:      cfg.MinSilence,
		ThresholdOffset: cfg.SilenceOffsetDB,
		KeepSilence:     cfg.KeepSilence,
	})
	asm := transcript.NewAssembler(client, seg, publish)
	asm.SetDecoder(audio.NewDecoder(cfg.FFmpegPath))
	return asm, nil
}
