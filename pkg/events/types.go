// Package events defines the Event data model shared by every stage of the
// ingestion, dedup, and delivery pipeline.
package events

import "encoding/json"

// Type is a closed enum of event classifications. A value outside the known
// set is classified Unknown (see IsUnknown) rather than failing to
// deserialize, preserving forward compatibility — but its original wire
// text is kept rather than coerced to a fixed literal, so re-serializing an
// Unknown-classified event reproduces the original bytes.
type Type string

const (
	TypeTaskStarted             Type = "task_started"
	TypeTaskProgress            Type = "task_progress"
	TypeTaskCompletion           Type = "task_completion"
	TypeTaskFailed               Type = "task_failed"
	TypeTaskCancelled            Type = "task_cancelled"
	TypeTaskPaused               Type = "task_paused"
	TypeTaskResumed              Type = "task_resumed"
	TypeApprovalRequest          Type = "approval_request"
	TypeApprovalGranted          Type = "approval_granted"
	TypeApprovalDenied           Type = "approval_denied"
	TypeApprovalExpired          Type = "approval_expired"
	TypeBuildStarted             Type = "build_started"
	TypeBuildCompleted           Type = "build_completed"
	TypeBuildFailed              Type = "build_failed"
	TypeTestSuiteStarted         Type = "test_suite_started"
	TypeTestSuiteCompleted       Type = "test_suite_completed"
	TypeTestSuiteFailed          Type = "test_suite_failed"
	TypeCodeGeneration           Type = "code_generation"
	TypeCodeReview               Type = "code_review"
	TypeCodeRefactoring          Type = "code_refactoring"
	TypePullRequestCreated       Type = "pull_request_created"
	TypePullRequestMerged        Type = "pull_request_merged"
	TypePullRequestClosed        Type = "pull_request_closed"
	TypeDeploymentStarted        Type = "deployment_started"
	TypeDeploymentCompleted      Type = "deployment_completed"
	TypeDeploymentFailed         Type = "deployment_failed"
	TypeDeploymentRolledBack     Type = "deployment_rolled_back"
	TypePerformanceAlert         Type = "performance_alert"
	TypePerformanceRegression    Type = "performance_regression"
	TypeResourceUsageHigh        Type = "resource_usage_high"
	TypeErrorOccurred            Type = "error_occurred"
	TypeErrorResolved            Type = "error_resolved"
	TypeCrashReport              Type = "crash_report"
	TypeSecurityAlert            Type = "security_alert"
	TypeSecurityScanCompleted    Type = "security_scan_completed"
	TypeVulnerabilityDetected    Type = "vulnerability_detected"
	TypeDependencyUpdated        Type = "dependency_updated"
	TypeDependencyVulnerable     Type = "dependency_vulnerable"
	TypeProgressUpdate           Type = "progress_update"
	TypeMilestoneReached         Type = "milestone_reached"
	TypeSessionStarted           Type = "session_started"
	TypeSessionEnded             Type = "session_ended"
	TypeFileChanged              Type = "file_changed"
	TypeFileCreated              Type = "file_created"
	TypeFileDeleted              Type = "file_deleted"
	TypeCommandExecuted          Type = "command_executed"
	TypeCommandFailed            Type = "command_failed"
	TypeConfigurationChanged     Type = "configuration_changed"
	TypeHealthCheckFailed        Type = "health_check_failed"
	TypeQuotaWarning             Type = "quota_warning"
	TypeUnknown                  Type = "unknown"
)

// requiredFields maps each known type to the business-rule fields it must
// carry in Data, beyond the always-required Title/Description/Timestamp.
var requiredFields = map[Type][]string{
	TypeApprovalRequest:       {"task_id"},
	TypeApprovalGranted:       {"task_id"},
	TypeApprovalDenied:        {"task_id"},
	TypeApprovalExpired:       {"task_id"},
	TypeDeploymentStarted:     {"environment"},
	TypeDeploymentCompleted:   {"environment"},
	TypeDeploymentFailed:      {"environment"},
	TypeDeploymentRolledBack:  {"environment"},
	TypePerformanceAlert:      {"metric"},
	TypePerformanceRegression: {"metric"},
	TypeErrorOccurred:         {"error_message"},
	TypeCrashReport:           {"error_message"},
	TypeSecurityAlert:         {"severity"},
	TypeVulnerabilityDetected: {"severity"},
}

// RequiredFields returns the business-rule-required Data keys for t.
func RequiredFields(t Type) []string { return requiredFields[t] }

// UnmarshalJSON implements the Unknown-sentinel fallback: any string value
// not in the known set is classified Unknown (IsUnknown reports true) but
// keeps its original text rather than being coerced to the literal
// "unknown", so a round trip through Marshal/Unmarshal never loses data —
// never a deserialization failure.
func (t *Type) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*t = Type(s)
	return nil
}

// MarshalJSON renders the type as its canonical string form.
func (t Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(t))
}

// IsUnknown reports whether t falls outside the closed set of known
// variants. Code that needs to test for the Unknown classification on a
// wire-derived Type should call IsUnknown rather than comparing against
// TypeUnknown directly, since an unrecognized value keeps its original text
// instead of being coerced to that literal.
func (t Type) IsUnknown() bool {
	_, known := knownTypes[t]
	return !known
}

var knownTypes = func() map[Type]struct{} {
	all := []Type{
		TypeTaskStarted, TypeTaskProgress, TypeTaskCompletion, TypeTaskFailed,
		TypeTaskCancelled, TypeTaskPaused, TypeTaskResumed,
		TypeApprovalRequest, TypeApprovalGranted, TypeApprovalDenied, TypeApprovalExpired,
		TypeBuildStarted, TypeBuildCompleted, TypeBuildFailed,
		TypeTestSuiteStarted, TypeTestSuiteCompleted, TypeTestSuiteFailed,
		TypeCodeGeneration, TypeCodeReview, TypeCodeRefactoring,
		TypePullRequestCreated, TypePullRequestMerged, TypePullRequestClosed,
		TypeDeploymentStarted, TypeDeploymentCompleted, TypeDeploymentFailed, TypeDeploymentRolledBack,
		TypePerformanceAlert, TypePerformanceRegression, TypeResourceUsageHigh,
		TypeErrorOccurred, TypeErrorResolved, TypeCrashReport,
		TypeSecurityAlert, TypeSecurityScanCompleted, TypeVulnerabilityDetected,
		TypeDependencyUpdated, TypeDependencyVulnerable,
		TypeProgressUpdate, TypeMilestoneReached,
		TypeSessionStarted, TypeSessionEnded,
		TypeFileChanged, TypeFileCreated, TypeFileDeleted,
		TypeCommandExecuted, TypeCommandFailed,
		TypeConfigurationChanged, TypeHealthCheckFailed, TypeQuotaWarning,
	}
	m := make(map[Type]struct{}, len(all))
	for _, t := range all {
		m[t] = struct{}{}
	}
	return m
}()

// KnownTypeCount reports how many non-Unknown variants the enum carries;
// spec §3 requires at least 44.
func KnownTypeCount() int { return len(knownTypes) }
