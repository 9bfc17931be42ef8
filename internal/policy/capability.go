package policy

import "github.com/roach88/ncflow/internal/domain"

// Capability is a named predicate over an actor and a record. Denial is
// the display reason returned when the predicate fails.
type Capability struct {
	Name   string
	Denial string
	Allows func(a domain.Actor, rec *domain.Record) bool
}

// Capabilities required by workflow actions.
var (
	QACapability = Capability{
		Name:   "qa",
		Denial: "Only QA may classify a record during the classification step",
		Allows: func(a domain.Actor, _ *domain.Record) bool { return CanClassify(a) },
	}
	ResponsiblePersonCapability = Capability{
		Name:   "responsible_person",
		Denial: "Only the responsible person may submit remediation during this step",
		Allows: CanSubmitRemediation,
	}
	ManagerCapability = Capability{
		Name:   "manager",
		Denial: "Only the department manager may review this record",
		Allows: CanApprove,
	}
	VerifierCapability = Capability{
		Name:   "verifier",
		Denial: "Only a verifier or QA may verify this record",
		Allows: func(a domain.Actor, _ *domain.Record) bool { return CanVerify(a) },
	}
	AdminCapability = Capability{
		Name:   "admin",
		Denial: "Only an administrator may override the workflow",
		Allows: func(a domain.Actor, _ *domain.Record) bool { return CanOverride(a) },
	}
)

// CanClassify reports whether a may classify records.
func CanClassify(a domain.Actor) bool {
	return a.IsAdmin() || a.HasRole(domain.RoleQA)
}

// CanSubmitRemediation reports whether a is the person responsible for rec.
func CanSubmitRemediation(a domain.Actor, rec *domain.Record) bool {
	if a.IsAdmin() {
		return true
	}
	return domain.RelationshipOf(a, rec).IsResponsiblePerson
}

// CanApprove reports whether a may approve or decline rec: the manager of
// rec's department, an organisation-wide manager, or an admin.
func CanApprove(a domain.Actor, rec *domain.Record) bool {
	if a.IsAdmin() {
		return true
	}
	if !a.HasRole(domain.RoleManager) {
		return false
	}
	return IsElevatedManager(a) || domain.RelationshipOf(a, rec).IsDepartmentManager
}

// IsElevatedManager reports whether a is a manager not tied to a department.
func IsElevatedManager(a domain.Actor) bool {
	return a.HasRole(domain.RoleManager) && a.DepartmentID == ""
}

// CanVerify reports whether a may perform final verification.
func CanVerify(a domain.Actor) bool {
	return a.IsAdmin() || a.HasRole(domain.RoleVerifier) || a.HasRole(domain.RoleQA)
}

// CanOverride reports whether a may use the admin override path.
func CanOverride(a domain.Actor) bool {
	return a.IsAdmin()
}
