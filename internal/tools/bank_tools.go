package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"bankchat/internal/client"
)

// RegisterBankTools wires the beneficiary and transfer service tools into
// the dispatcher. All results are plain text so the model can quote them
// directly in its answer.
func RegisterBankTools(d *Dispatcher, beneficiaries *client.BeneficiaryClient, transfers *client.TransferClient) {
	d.Register(Descriptor{
		Name:        "get_beneficiary",
		Description: "Get a single beneficiary by its numeric id.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "integer",
					"description": "Beneficiary id",
				},
			},
			"required": []string{"id"},
		},
		Handler: func(ctx context.Context, arguments json.RawMessage) (string, error) {
			var args struct {
				ID int64 `json:"id"`
			}
			if err := json.Unmarshal(arguments, &args); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			b, err := beneficiaries.GetByID(ctx, args.ID)
			if err != nil {
				return "", err
			}
			return formatBeneficiary(*b), nil
		},
	})

	d.Register(Descriptor{
		Name:        "search_beneficiaries",
		Description: "Search beneficiaries by name fragment.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Full or partial beneficiary name",
				},
			},
			"required": []string{"name"},
		},
		Handler: func(ctx context.Context, arguments json.RawMessage) (string, error) {
			var args struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(arguments, &args); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			found, err := beneficiaries.Search(ctx, args.Name)
			if err != nil {
				return "", err
			}
			if len(found) == 0 {
				return fmt.Sprintf("No beneficiary matches %q.", args.Name), nil
			}
			return formatBeneficiaries(found), nil
		},
	})

	d.Register(Descriptor{
		Name:        "list_beneficiaries",
		Description: "List all beneficiaries of the current customer.",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
		Handler: func(ctx context.Context, _ json.RawMessage) (string, error) {
			found, err := beneficiaries.List(ctx)
			if err != nil {
				return "", err
			}
			if len(found) == 0 {
				return "No beneficiaries registered.", nil
			}
			return formatBeneficiaries(found), nil
		},
	})

	d.Register(Descriptor{
		Name:        "get_transfer",
		Description: "Get a single transfer by its numeric id.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "integer",
					"description": "Transfer id",
				},
			},
			"required": []string{"id"},
		},
		Handler: func(ctx context.Context, arguments json.RawMessage) (string, error) {
			var args struct {
				ID int64 `json:"id"`
			}
			if err := json.Unmarshal(arguments, &args); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			t, err := transfers.GetByID(ctx, args.ID)
			if err != nil {
				return "", err
			}
			return formatTransfer(*t), nil
		},
	})

	d.Register(Descriptor{
		Name:        "list_transfers",
		Description: "List all transfers of the current customer.",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
		Handler: func(ctx context.Context, _ json.RawMessage) (string, error) {
			found, err := transfers.List(ctx)
			if err != nil {
				return "", err
			}
			if len(found) == 0 {
				return "No transfers recorded.", nil
			}
			return formatTransfers(found), nil
		},
	})

	d.Register(Descriptor{
		Name:        "get_transfers_by_beneficiary",
		Description: "List all transfers sent to one beneficiary, with the total amount.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"beneficiary_id": map[string]interface{}{
					"type":        "integer",
					"description": "Beneficiary id",
				},
			},
			"required": []string{"beneficiary_id"},
		},
		Handler: func(ctx context.Context, arguments json.RawMessage) (string, error) {
			var args struct {
				BeneficiaryID int64 `json:"beneficiary_id"`
			}
			if err := json.Unmarshal(arguments, &args); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			found, err := transfers.ListByBeneficiary(ctx, args.BeneficiaryID)
			if err != nil {
				return "", err
			}
			if len(found) == 0 {
				return fmt.Sprintf("No transfers recorded for beneficiary %d.", args.BeneficiaryID), nil
			}

			var total float64
			for _, t := range found {
				total += t.Amount
			}
			var sb strings.Builder
			sb.WriteString(formatTransfers(found))
			fmt.Fprintf(&sb, "\nTotal transferred: %.2f", total)
			return sb.String(), nil
		},
	})
}

func formatBeneficiary(b client.Beneficiary) string {
	status := "inactive"
	if b.Active {
		status = "active"
	}
	return fmt.Sprintf("Beneficiary %d: %s %s, RIB %s, type %s, %s, created %s",
		b.ID, b.FirstName, b.LastName, b.RIB, b.Type, status, b.CreatedAt)
}

func formatBeneficiaries(list []client.Beneficiary) string {
	var sb strings.Builder
	for i, b := range list {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(formatBeneficiary(b))
	}
	return sb.String()
}

func formatTransfer(t client.Transfer) string {
	return fmt.Sprintf("Transfer %d: %.2f to beneficiary %d from %s on %s, type %s, status %s (%s)",
		t.ID, t.Amount, t.BeneficiaryID, t.SourceRIB, t.Date, t.Type, t.Status, t.Description)
}

func formatTransfers(list []client.Transfer) string {
	var sb strings.Builder
	for i, t := range list {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(formatTransfer(t))
	}
	return sb.String()
}
