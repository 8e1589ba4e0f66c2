// Package ports declares the outbound interfaces the ledger services depend on.
package ports

import (
	"context"
	"errors"

	"fieldservice/internal/core"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrMonthExists = errors.New("service month already exists")
)

type (
	// StatusChange records a publisher status update produced by closing a month.
	StatusChange struct {
		PublisherID string      `json:"publisherId"`
		From        core.Status `json:"from"`
		To          core.Status `json:"to"`
	}

	// CloseCommit is everything a month close writes. Stores apply it
	// atomically: either all of it becomes visible or none of it.
	CloseCommit struct {
		Month         core.ServiceMonth
		Year          core.ServiceYear
		StatusChanges []StatusChange
	}

	// MonthData is one legacy month as read by a ReportSource.
	MonthData struct {
		Reports  []core.Report
		Meetings []core.MeetingSeries
	}

	LedgerStore interface {
		// CreateMonth stores a new ACTIVE ledger. It fails with ErrMonthExists
		// when the period already has one.
		CreateMonth(ctx context.Context, m core.ServiceMonth) error
		GetMonth(ctx context.Context, id string) (core.ServiceMonth, error)
		FindMonth(ctx context.Context, serviceYear, sortOrder int) (core.ServiceMonth, error)
		// ActiveMonth returns the ACTIVE ledger, if any.
		ActiveMonth(ctx context.Context) (core.ServiceMonth, bool, error)
		ListMonths(ctx context.Context, serviceYear int) ([]core.ServiceMonth, error)

		UpsertReport(ctx context.Context, monthID string, r core.Report) error
		SaveMeetings(ctx context.Context, monthID string, series []core.MeetingSeries) error

		GetYear(ctx context.Context, name int) (core.ServiceYear, error)
		SaveYear(ctx context.Context, y core.ServiceYear) error

		CommitClose(ctx context.Context, c CloseCommit) error
	}

	PublisherDirectory interface {
		ListPublishers(ctx context.Context) ([]core.Publisher, error)
		GetPublisher(ctx context.Context, id string) (core.Publisher, error)
		SavePublisher(ctx context.Context, p core.Publisher) error
		// ReportHistory returns the publisher's reports from closed months.
		ReportHistory(ctx context.Context, publisherID string) ([]core.Report, error)
	}

	// ReportSource reads a service month from a legacy spreadsheet.
	ReportSource interface {
		ReadMonth(ctx context.Context, serviceYear, sortOrder int) (MonthData, error)
	}

	EventPublisher interface {
		PublishMonthClosed(ctx context.Context, m core.ServiceMonth) error
		PublishReportUpserted(ctx context.Context, monthID string, r core.Report) error
	}

	// Store is a backend serving both the ledger and the publisher directory.
	Store interface {
		LedgerStore
		PublisherDirectory
	}
)
