package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomview/ordering"
	"github.com/caio-sobreiro/dicomview/types"
)

var (
	studiesCmd = &cobra.Command{
		Use:   "studies",
		Short: "List, inspect and delete stored studies",
	}
	studiesListCmd = &cobra.Command{
		Use:   "list",
		Short: "List stored studies",
		Args:  cobra.NoArgs,
		RunE:  runStudiesList,
	}
	studiesShowCmd = &cobra.Command{
		Use:   "show <study-uid>",
		Short: "Show the series of a study",
		Args:  cobra.ExactArgs(1),
		RunE:  runStudiesShow,
	}
	studiesSeriesCmd = &cobra.Command{
		Use:   "series <study-uid> <series-uid>",
		Short: "Show the instances of a series",
		Args:  cobra.ExactArgs(2),
		RunE:  runStudiesSeries,
	}
	studiesDeleteCmd = &cobra.Command{
		Use:   "delete <study-uid>",
		Short: "Delete a study",
		Args:  cobra.ExactArgs(1),
		RunE:  runStudiesDelete,
	}

	orderFlag string
)

func init() {
	studiesSeriesCmd.Flags().StringVar(&orderFlag, "order", "", "Instance ordering: instance-number or position (default from config)")
	studiesCmd.AddCommand(studiesListCmd, studiesShowCmd, studiesSeriesCmd, studiesDeleteCmd)
}

func runStudiesList(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	studies, err := c.List(cmd.Context())
	if err != nil {
		return err
	}
	printStudies(cmd.OutOrStdout(), studies)
	return nil
}

func printStudies(w io.Writer, studies []types.Study) {
	if len(studies) == 0 {
		fmt.Fprintln(w, "No studies")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STUDY UID\tPATIENT\tID\tDATE\tMODALITY\tSERIES\tIMAGES\tDESCRIPTION")
	for _, s := range studies {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			s.StudyInstanceUID, orDash(s.PatientName), orDash(s.PatientID), orDash(s.StudyDate),
			orDash(s.Modality), s.SeriesCount, s.InstanceCount, s.StudyDescription)
	}
	tw.Flush()
}

func runStudiesShow(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	detail, err := c.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printSeries(cmd.OutOrStdout(), ordering.Series(detail.Series))
	return nil
}

func printSeries(w io.Writer, series []types.Series) {
	if len(series) == 0 {
		fmt.Fprintln(w, "No series")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSERIES UID\tMODALITY\tIMAGES\tDESCRIPTION")
	for _, s := range series {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n",
			s.SeriesNumber, s.SeriesInstanceUID, orDash(s.Modality), s.InstanceCount, s.SeriesDescription)
	}
	tw.Flush()
}

func runStudiesSeries(cmd *cobra.Command, args []string) error {
	policyName := orderFlag
	if policyName == "" {
		policyName = cfg.Viewer.InstanceOrder
	}
	policy, err := ordering.ParsePolicy(policyName)
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	detail, err := c.GetSeries(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	printInstances(cmd.OutOrStdout(), ordering.Instances(detail.Instances, policy))
	return nil
}

func printInstances(w io.Writer, instances []types.Instance) {
	if len(instances) == 0 {
		fmt.Fprintln(w, "No instances")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSOP INSTANCE UID\tSIZE\tPOSITION")
	for _, in := range instances {
		size := "-"
		if in.Rows > 0 && in.Columns > 0 {
			size = fmt.Sprintf("%dx%d", in.Columns, in.Rows)
		}
		position := "-"
		if in.HasPosition() {
			parts := make([]string, 3)
			for i, v := range in.ImagePositionPatient {
				parts[i] = fmt.Sprintf("%.2f", v)
			}
			position = strings.Join(parts, "\\")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", in.InstanceNumber, in.SOPInstanceUID, size, position)
	}
	tw.Flush()
}

func runStudiesDelete(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	if err := c.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted study %s\n", args[0])
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
