package statechannel

import "fmt"

// Sentinel errors for the pure channel/app transitions, matching
// channeldb/store.go's style of package-level error variables rather than
// a custom error type hierarchy.
var (
	ErrFreeBalanceNotInitialized = fmt.Errorf("statechannel: free balance app instance not initialized")
	ErrAppAlreadyInstalled       = fmt.Errorf("statechannel: app already installed for this identityHash")
	ErrAppAlreadyProposed        = fmt.Errorf("statechannel: app already proposed for this identityHash")
	ErrAppNotFound               = fmt.Errorf("statechannel: app instance not found")
	ErrProposalNotFound          = fmt.Errorf("statechannel: proposal not found")
	ErrInsufficientFreeBalance   = fmt.Errorf("statechannel: insufficient free balance for deposit")
	ErrVersionNumberReplay       = fmt.Errorf("statechannel: versionNumber is not greater than current")
	ErrNonceNotMonotonic         = fmt.Errorf("statechannel: channelNonce must exceed monotonicNumProposedApps")
)
