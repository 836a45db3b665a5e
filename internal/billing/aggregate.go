package billing

import (
	"math"
	"sort"
	"strings"
)

// CostRow is one raw (service, sku) line from the billing warehouse.
type CostRow struct {
	ServiceDescription string
	SKUDescription     string
	Cost               float64
	Credits            float64 // Usually <= 0; negative values reduce cost.
}

// CostEntry is a per-service line of the billing report.
type CostEntry struct {
	Service    string  `json:"service"`
	Cost       float64 `json:"cost"`
	Credits    float64 `json:"credits"`
	NetCost    float64 `json:"netCost"`
	Percentage *int    `json:"percentage,omitempty"`
}

// serviceAlias maps a description fragment to a display name.
type serviceAlias struct {
	fragment  string
	canonical string
}

// serviceAliases is matched in order, case-insensitively.
var serviceAliases = []serviceAlias{
	{fragment: "speech", canonical: "Speech-to-Text"},
	{fragment: "vertex ai", canonical: "Vertex AI"},
	{fragment: "gemini", canonical: "Vertex AI"},
	{fragment: "generative", canonical: "Vertex AI"},
	{fragment: "cloud storage", canonical: "Cloud Storage"},
	{fragment: "simple storage service", canonical: "Cloud Storage"},
	{fragment: "compute engine", canonical: "Compute Engine"},
	{fragment: "elastic compute cloud", canonical: "Compute Engine"},
	{fragment: "ec2", canonical: "Compute Engine"},
	{fragment: "cloud run", canonical: "Cloud Run"},
	{fragment: "app engine", canonical: "App Engine"},
	{fragment: "cloud build", canonical: "Cloud Build"},
	{fragment: "artifact registry", canonical: "Artifact Registry"},
	{fragment: "bigquery", canonical: "BigQuery"},
	{fragment: "cloud logging", canonical: "Cloud Logging"},
	{fragment: "cloudwatch", canonical: "Cloud Logging"},
	{fragment: "networking", canonical: "Networking"},
	{fragment: "data transfer", canonical: "Networking"},
	{fragment: "cloud billing", canonical: "Billing"},
	{fragment: "cost explorer", canonical: "Billing"},
}

// CanonicalServiceName resolves a display name for a billing row. Rows that match
// no known fragment keep their raw description.
func CanonicalServiceName(serviceDescription, skuDescription string) string {
	service := strings.TrimSpace(serviceDescription)
	for _, alias := range serviceAliases {
		if strings.EqualFold(service, alias.canonical) {
			return alias.canonical
		}
	}
	for _, candidate := range []string{service, strings.TrimSpace(skuDescription)} {
		lower := strings.ToLower(candidate)
		if lower == "" {
			continue
		}
		for _, alias := range serviceAliases {
			if strings.Contains(lower, alias.fragment) {
				return alias.canonical
			}
		}
	}
	if service == "" {
		return "Other"
	}
	return service
}

// Aggregate merges rows that share a display name and returns them by cost, descending.
func Aggregate(rows []CostRow) []CostEntry {
	index := make(map[string]int, len(rows))
	entries := make([]CostEntry, 0, len(rows))
	for _, row := range rows {
		name := CanonicalServiceName(row.ServiceDescription, row.SKUDescription)
		pos, ok := index[name]
		if !ok {
			pos = len(entries)
			index[name] = pos
			entries = append(entries, CostEntry{Service: name})
		}
		entries[pos].Cost += row.Cost
		entries[pos].Credits += row.Credits
	}
	for i := range entries {
		entries[i].Cost = round2(entries[i].Cost)
		entries[i].Credits = round2(entries[i].Credits)
		entries[i].NetCost = round2(entries[i].Cost + entries[i].Credits)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Cost > entries[j].Cost
	})
	return entries
}

// Rows converts report entries back into warehouse rows.
func Rows(entries []CostEntry) []CostRow {
	rows := make([]CostRow, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, CostRow{ServiceDescription: entry.Service, Cost: entry.Cost, Credits: entry.Credits})
	}
	return rows
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
