package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomview/server"
)

var (
	sampleBackendCmd = &cobra.Command{
		Use:   "sample-backend",
		Short: "Serve an in-memory study backend for local testing",
		Long: `sample-backend serves the study, upload and DICOMweb routes from memory.
It is seeded with synthetic CT series, and with the DICOM files under --dir
when given. Point the viewer at http://<listen>/api/v1.`,
		Args: cobra.NoArgs,
		RunE: runSampleBackend,
	}

	sampleListen    string
	sampleDir       string
	sampleStudies   int
	sampleSeries    int
	sampleInstances int
)

func init() {
	sampleBackendCmd.Flags().StringVar(&sampleListen, "listen", "127.0.0.1:8000", "Address to listen on")
	sampleBackendCmd.Flags().StringVar(&sampleDir, "dir", "", "Directory of DICOM files to preload")
	sampleBackendCmd.Flags().IntVar(&sampleStudies, "studies", 2, "Number of synthetic studies")
	sampleBackendCmd.Flags().IntVar(&sampleSeries, "series", 2, "Synthetic series per study")
	sampleBackendCmd.Flags().IntVar(&sampleInstances, "instances", 5, "Synthetic instances per series")
}

func runSampleBackend(cmd *cobra.Command, args []string) error {
	if sampleStudies < 0 || sampleSeries < 0 || sampleInstances < 0 {
		return errors.New("synthetic counts must not be negative")
	}
	gin.SetMode(gin.ReleaseMode)

	logger := slog.Default()
	archive := server.NewArchive()
	if err := archive.Seed(sampleStudies, sampleSeries, sampleInstances); err != nil {
		return fmt.Errorf("generate synthetic instances: %w", err)
	}
	if sampleDir != "" {
		n, err := archive.LoadDir(sampleDir, logger)
		if err != nil {
			return err
		}
		logger.Info("Loaded DICOM files", "dir", sampleDir, "instances", n)
	}

	err := server.ListenAndServe(cmd.Context(), sampleListen, archive, server.WithLogger(logger))
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Sample backend stopped")
	return nil
}
