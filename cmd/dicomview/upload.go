package main

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomview/types"
)

var (
	uploadCmd = &cobra.Command{
		Use:   "upload <file-or-dir>...",
		Short: "Upload DICOM files to the backend",
		Long: `Upload sends the given files, and every file under the given directories,
in one batch. Files that do not look like DICOM (.dcm or no extension) are
skipped unless --all is set.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runUpload,
	}

	uploadAll bool
)

func init() {
	uploadCmd.Flags().BoolVar(&uploadAll, "all", false, "Upload every file regardless of its name")
}

// collectFiles expands paths into upload files. Directories are walked
// recursively.
func collectFiles(paths []string) ([]types.UploadFile, error) {
	var files []types.UploadFile
	for _, root := range paths {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			files = append(files, types.UploadFile{
				Name: filepath.Base(path),
				Size: info.Size(),
				Open: func() (io.ReadCloser, error) { return os.Open(path) },
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("collect %s: %w", root, err)
		}
	}
	return files, nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	files, err := collectFiles(args)
	if err != nil {
		return err
	}
	if cfg.Upload.FilterDICOM && !uploadAll {
		kept := types.FilterDICOMFiles(files)
		if skipped := len(files) - len(kept); skipped > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "Skipping %d non-DICOM file(s)\n", skipped)
		}
		files = kept
	}
	if len(files) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to upload")
		return nil
	}

	c, err := newClient()
	if err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	result, err := c.Upload(cmd.Context(), files, func(percent int) {
		fmt.Fprintf(stderr, "\rUploading %d file(s)... %3d%%", len(files), percent)
	})
	fmt.Fprintln(stderr)
	if result != nil {
		printUploadResult(cmd.OutOrStdout(), result)
	}
	return err
}

func printUploadResult(w io.Writer, result *types.UploadResult) {
	fmt.Fprintf(w, "Uploaded: %d, failed: %d\n", result.Uploaded, result.Failed)
	for _, f := range result.Errors {
		fmt.Fprintf(w, "  %s: %s\n", f.Filename, f.Error)
	}
}
