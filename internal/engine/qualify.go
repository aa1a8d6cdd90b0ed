package engine

import "github.com/mn-ai/mnvoice/pkg/protocol"

// Evaluate applies the qualification rule to a region and budget band.
//
// An unserved region is always UNQUALIFIED. Within a served region a
// below_6L budget is NURTURE and anything else is QUALIFIED, with
// BUDGET_ABOVE_BAND noted for above_9L. Budget values other than the
// known bands also land in QUALIFIED.
func Evaluate(region protocol.Region, band protocol.BudgetBand) (protocol.QualificationStatus, []protocol.QualificationReason) {
	if !region.Served() {
		return protocol.QualificationUnqualified, []protocol.QualificationReason{protocol.ReasonRegionNotServed}
	}
	if band == protocol.BudgetBelow6L {
		return protocol.QualificationNurture, []protocol.QualificationReason{protocol.ReasonBudgetBelowMin}
	}
	reasons := []protocol.QualificationReason{}
	if band == protocol.BudgetAbove9L {
		reasons = append(reasons, protocol.ReasonBudgetAboveBand)
	}
	return protocol.QualificationQualified, reasons
}
