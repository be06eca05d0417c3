package interfaces

import (
	"context"

	"github.com/opphound/opphound/internal/model"
)

// Store is the persistence collaborator consumed by the pipeline. The
// pipeline treats it purely as a record store and assumes nothing about the
// schema beyond these operations.
type Store interface {
	GetPortal(ctx context.Context, id string) (*model.Portal, error)
	GetPortalWithCredentials(ctx context.Context, id string) (*model.Portal, *model.PortalCredentials, error)
	ListPortals(ctx context.Context) ([]model.Portal, error)
	CreatePortal(ctx context.Context, p *model.Portal) error
	TouchPortalScan(ctx context.Context, id string, at int64) error

	CreateWorkItem(ctx context.Context, item *model.WorkItem) error
	CompleteWorkItem(ctx context.Context, id, result string) error
	FailWorkItem(ctx context.Context, id, errMsg string) error
	GetWorkItem(ctx context.Context, id string) (*model.WorkItem, error)

	// Historical scan lookups, written on scan completion.
	SaveScanSummary(ctx context.Context, s *model.ScanSummary) error
	GetScan(ctx context.Context, scanID string) (*model.ScanSummary, error)
	SaveScanEvents(ctx context.Context, scanID string, events []model.ScanEvent) error
	GetScanEvents(ctx context.Context, scanID string) ([]model.ScanEvent, error)

	SaveOpportunities(ctx context.Context, portalID string, opps []model.Opportunity) (int, error)

	// Portal content fingerprints for monitor-stage change detection.
	GetFingerprint(ctx context.Context, portalID string) (string, error)
	SaveFingerprint(ctx context.Context, portalID, fingerprint string) error

	Close() error
}
