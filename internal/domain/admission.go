package domain

// AdmissionResult is the gate's verdict for one (buyer, product) pair.
// Anything other than an explicit pass is a fail with a reason; there is no
// ambiguous middle ground.
type AdmissionResult struct {
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

func AdmissionPass() AdmissionResult {
	return AdmissionResult{Passed: true}
}

func AdmissionFail(reason string) AdmissionResult {
	return AdmissionResult{Passed: false, Reason: reason}
}
