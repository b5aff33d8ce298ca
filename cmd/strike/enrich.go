package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/StrikeScan/go-pipeline/strike/config"
	"github.com/StrikeScan/go-pipeline/strike/nvd"
)

func (a *app) enrichCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enrich",
		Short: "Attach NVD CVE metadata to stored findings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireTarget(); err != nil {
				return err
			}
			hostname := config.Hostname(a.cfg.WebURL)
			repo, err := a.openMemory(hostname)
			if err != nil {
				return fmt.Errorf("open exploit memory: %w", err)
			}
			findings, err := repo.ListFindings(hostname, "")
			if err != nil {
				return err
			}

			client := nvd.NewClient()
			enriched := 0
			for _, f := range findings {
				if f.CVEID != "" {
					continue
				}
				cveID := nvd.ExtractCVEID(f.Description)
				if cveID == "" {
					cveID = nvd.ExtractCVEID(f.Impact)
				}
				if cveID == "" {
					continue
				}
				item, err := client.GetCVE(cmd.Context(), cveID)
				if err != nil {
					slog.Warn("NVD lookup failed", "cve", cveID, "finding", f.ID, "error", err)
					continue
				}
				if item.ID == "" {
					slog.Debug("CVE not found in NVD", "cve", cveID, "finding", f.ID)
					continue
				}
				score, severity := nvd.Score(item)
				if err := repo.SetCVE(f.ID, item.ID, score, severity); err != nil {
					return fmt.Errorf("record CVE for finding %s: %w", f.ID, err)
				}
				enriched++
				slog.Info("Finding enriched", "finding", f.ID, "cve", item.ID, "score", score, "severity", severity)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Enriched %d of %d findings.\n", enriched, len(findings))
			return nil
		},
	}
}
