// cast.go - offline checkpoint dtype conversion
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/llamastream/llamastream/ml"
	"github.com/llamastream/llamastream/model"
)

// NewCastCommand builds the cast subcommand: load a checkpoint, convert its
// dtype, write the target directory, and carry the tokenizer files along.
func NewCastCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cast",
		Short: "Convert a checkpoint to another dtype",
		Args:  cobra.ExactArgs(0),
		RunE:  CastHandler,
	}
	cmd.Flags().StringP("model", "m", "", "original model directory")
	cmd.Flags().StringP("target", "t", "", "target model directory")
	cmd.Flags().String("dt", "float32", "target data type (f32, f16, bf16)")
	cmd.MarkFlagRequired("model")
	return cmd
}

func CastHandler(cmd *cobra.Command, _ []string) error {
	modelDir, _ := cmd.Flags().GetString("model")
	target, _ := cmd.Flags().GetString("target")
	dtName, _ := cmd.Flags().GetString("dt")

	dt, err := parseDataType(dtName)
	if err != nil {
		return err
	}

	start := time.Now()
	s, _, err := model.LoadStorage(modelDir)
	if err != nil {
		return err
	}
	slog.Info("load model", "took", time.Since(start))

	if target == "" {
		base := filepath.Base(filepath.Clean(modelDir))
		target = filepath.Join(filepath.Dir(filepath.Clean(modelDir)), fmt.Sprintf("%s_%s", base, dt))
	}

	start = time.Now()
	s = s.Cast(dt)
	slog.Info("cast data type", "dtype", dt, "took", time.Since(start))

	start = time.Now()
	if err := s.Save(target); err != nil {
		return err
	}
	slog.Info("save model", "target", target, "took", time.Since(start))

	for _, name := range []string{"tokenizer.model", "vocabs.txt"} {
		if err := copyFile(filepath.Join(modelDir, name), filepath.Join(target, name)); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		slog.Info("copied", "file", name)
	}
	return nil
}

func parseDataType(name string) (ml.DType, error) {
	switch name {
	case "f32", "float", "float32", "":
		return ml.DTypeF32, nil
	case "f16", "half", "float16":
		return ml.DTypeF16, nil
	case "bf16", "bfloat16":
		return ml.DTypeBF16, nil
	default:
		return ml.DTypeOther, fmt.Errorf("unknown data type %q", name)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
