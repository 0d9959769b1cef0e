package escrow

import (
	"fmt"
	"math/big"
	"strings"

	"gigchain/native/arbitration"
)

type gigState interface {
	GigPut(*Gig) error
	GigGet(id [32]byte) (*Gig, bool, error)
}

func (e *Engine) gigStore() (gigState, error) {
	store, ok := e.state.(gigState)
	if !ok {
		return nil, fmt.Errorf("escrow: state backend does not support gigs")
	}
	return store, nil
}

func (e *Engine) loadGig(id [32]byte) (*Gig, gigState, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	store, err := e.gigStore()
	if err != nil {
		return nil, nil, err
	}
	gig, ok, err := store.GigGet(id)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrGigNotFound
	}
	return gig, store, nil
}

func (e *Engine) storeGig(store gigState, gig *Gig) error {
	sanitized, err := SanitizeGig(gig)
	if err != nil {
		return err
	}
	return store.GigPut(sanitized)
}

// CreateGig escrows the full sum of all tranche amounts up front against a
// directly engaged worker. The tranche list is validated against the total
// and frozen at creation. Identical terms are idempotent like Create.
func (e *Engine) CreateGig(client, worker [20]byte, token string, milestones []MilestoneDraft, requirementsRef string, mode DisputeMode, nonce uint64) ([32]byte, error) {
	if err := e.ready(); err != nil {
		return [32]byte{}, err
	}
	store, err := e.gigStore()
	if err != nil {
		return [32]byte{}, err
	}
	if client == ([20]byte{}) || worker == ([20]byte{}) {
		return [32]byte{}, fmt.Errorf("escrow: gig parties required")
	}
	if client == worker {
		return [32]byte{}, fmt.Errorf("escrow: client and worker must differ")
	}
	if !mode.Valid() {
		return [32]byte{}, fmt.Errorf("escrow: invalid dispute mode: %d", mode)
	}
	if _, ok := e.arbitrators[mode]; !ok {
		return [32]byte{}, fmt.Errorf("escrow: no arbitrator bound for mode %d", mode)
	}
	if len(milestones) == 0 {
		return [32]byte{}, fmt.Errorf("escrow: at least one milestone required")
	}
	total := big.NewInt(0)
	tranches := make([]*Milestone, len(milestones))
	for i, draft := range milestones {
		if draft.Amount == nil || draft.Amount.Sign() <= 0 {
			return [32]byte{}, fmt.Errorf("escrow: milestone %d amount must be positive", i)
		}
		if strings.TrimSpace(draft.Description) == "" {
			return [32]byte{}, fmt.Errorf("escrow: milestone %d description required", i)
		}
		total.Add(total, draft.Amount)
		tranches[i] = &Milestone{
			Description: strings.TrimSpace(draft.Description),
			Amount:      new(big.Int).Set(draft.Amount),
			Status:      MilestonePending,
		}
	}
	id := GigID(client, worker, token, total, nonce)
	if existing, ok, err := store.GigGet(id); err != nil {
		return [32]byte{}, err
	} else if ok {
		if sameGigTerms(existing, client, worker, token, tranches, strings.TrimSpace(requirementsRef), mode) {
			return existing.ID, nil
		}
		return [32]byte{}, fmt.Errorf("escrow: gig id collision for nonce %d", nonce)
	}
	gig := &Gig{
		ID:              id,
		Client:          client,
		Worker:          worker,
		Token:           token,
		TotalAmount:     total,
		RequirementsRef: strings.TrimSpace(requirementsRef),
		DisputeMode:     mode,
		CreatedAt:       e.now(),
		Nonce:           nonce,
		Milestones:      tranches,
		Status:          GigActive,
	}
	sanitized, err := SanitizeGig(gig)
	if err != nil {
		return [32]byte{}, err
	}
	vault, err := e.state.EscrowVaultAddress()
	if err != nil {
		return [32]byte{}, err
	}
	if err := e.assets.Transfer(client, vault, sanitized.Token, sanitized.TotalAmount); err != nil {
		return [32]byte{}, err
	}
	if err := store.GigPut(sanitized); err != nil {
		return [32]byte{}, err
	}
	e.emit(newGigEvent(EventTypeGigCreated, sanitized, 0, nil, nil))
	return id, nil
}

// sameGigTerms reports whether a stored gig matches a CreateGig replay term
// for term. The ID only covers parties, token, total, and nonce, so the
// tranche breakdown, requirements ref, and dispute mode must be compared
// explicitly.
func sameGigTerms(existing *Gig, client, worker [20]byte, token string, tranches []*Milestone, requirementsRef string, mode DisputeMode) bool {
	if existing == nil {
		return false
	}
	if existing.Client != client || existing.Worker != worker {
		return false
	}
	if existing.Token != strings.ToUpper(strings.TrimSpace(token)) {
		return false
	}
	if existing.RequirementsRef != requirementsRef || existing.DisputeMode != mode {
		return false
	}
	if len(existing.Milestones) != len(tranches) {
		return false
	}
	for i, tranche := range tranches {
		stored := existing.Milestones[i]
		if stored.Description != tranche.Description {
			return false
		}
		if stored.Amount == nil || tranche.Amount == nil || stored.Amount.Cmp(tranche.Amount) != 0 {
			return false
		}
	}
	return true
}

func milestoneAt(gig *Gig, index uint64) (*Milestone, error) {
	if index >= uint64(len(gig.Milestones)) {
		return nil, ErrMilestoneNotFound
	}
	return gig.Milestones[index], nil
}

// SubmitMilestone records the worker's deliverable for one tranche. Sibling
// tranches are untouched; a dispute elsewhere in the gig does not gate this.
func (e *Engine) SubmitMilestone(gigID [32]byte, index uint64, caller [20]byte, deliverableRef string) error {
	if err := e.ready(); err != nil {
		return err
	}
	gig, store, err := e.loadGig(gigID)
	if err != nil {
		return err
	}
	if caller != gig.Worker {
		return ErrUnauthorized
	}
	m, err := milestoneAt(gig, index)
	if err != nil {
		return err
	}
	if m.Status != MilestonePending {
		return fmt.Errorf("%w: milestone submission requires a pending tranche", ErrInvalidStatus)
	}
	deliverableRef = strings.TrimSpace(deliverableRef)
	if deliverableRef == "" {
		return fmt.Errorf("escrow: deliverable reference required")
	}
	m.DeliverableRef = deliverableRef
	m.SubmittedAt = e.now()
	m.Status = MilestoneSubmitted
	if err := e.storeGig(store, gig); err != nil {
		return err
	}
	e.emit(newGigEvent(EventTypeMilestoneSubmitted, gig, index, m, nil))
	return nil
}

// ApproveMilestone pays one tranche through direct client approval.
func (e *Engine) ApproveMilestone(gigID [32]byte, index uint64, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	gig, store, err := e.loadGig(gigID)
	if err != nil {
		return err
	}
	if caller != gig.Client {
		return ErrUnauthorized
	}
	m, err := milestoneAt(gig, index)
	if err != nil {
		return err
	}
	if m.Status.Terminal() {
		return ErrAlreadySettled
	}
	if m.Status != MilestoneSubmitted {
		return fmt.Errorf("%w: approval requires a submitted tranche", ErrInvalidStatus)
	}
	if err := e.settleMilestone(store, gig, m, 0, MilestoneApproved); err != nil {
		return err
	}
	e.emit(newGigEvent(EventTypeMilestoneApproved, gig, index, m, nil))
	return nil
}

// AutoReleaseMilestone is the permissionless keeper path for a single
// tranche, mirroring AutoRelease on bounty jobs.
func (e *Engine) AutoReleaseMilestone(gigID [32]byte, index uint64, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	gig, store, err := e.loadGig(gigID)
	if err != nil {
		return err
	}
	m, err := milestoneAt(gig, index)
	if err != nil {
		return err
	}
	if m.Status.Terminal() {
		return ErrAlreadySettled
	}
	if m.Status != MilestoneSubmitted {
		return fmt.Errorf("%w: release requires a submitted tranche", ErrInvalidStatus)
	}
	if e.now() < m.SubmittedAt+e.policy.AutoReleaseSeconds {
		return ErrReleaseTooEarly
	}
	if err := e.settleMilestone(store, gig, m, 0, MilestoneReleased); err != nil {
		return err
	}
	e.emit(newGigEvent(EventTypeMilestoneReleased, gig, index, m, map[string]string{"keeper": addrAttr(caller)}))
	return nil
}

// DisputeMilestone hands one submitted tranche to the gig's arbitrator. The
// case reference carries the 1-based tranche number so whole-job cases and
// tranche cases never collide.
func (e *Engine) DisputeMilestone(gigID [32]byte, index uint64, caller [20]byte, reasonRef string) error {
	if err := e.ready(); err != nil {
		return err
	}
	gig, store, err := e.loadGig(gigID)
	if err != nil {
		return err
	}
	if caller != gig.Client {
		return ErrUnauthorized
	}
	m, err := milestoneAt(gig, index)
	if err != nil {
		return err
	}
	if m.Status.Terminal() {
		return ErrAlreadySettled
	}
	if m.Status == MilestoneDisputed {
		return ErrDisputePending
	}
	if m.Status != MilestoneSubmitted {
		return fmt.Errorf("%w: dispute requires a submitted tranche", ErrInvalidStatus)
	}
	arb, ok := e.arbitrators[gig.DisputeMode]
	if !ok {
		return fmt.Errorf("escrow: no arbitrator bound for mode %d", gig.DisputeMode)
	}
	caseID, err := arb.OpenCase(arbitration.CaseRef{
		JobID:      gig.ID,
		Milestone:  index + 1,
		Claimant:   gig.Client,
		Respondent: gig.Worker,
		ReasonRef:  reasonRef,
	})
	if err != nil {
		return err
	}
	m.CaseID = caseID
	m.Status = MilestoneDisputed
	if err := e.storeGig(store, gig); err != nil {
		return err
	}
	e.emit(newGigEvent(EventTypeMilestoneDisputed, gig, index, m, nil))
	return nil
}

// ResolveMilestone pulls the arbitrator's recorded split for a disputed
// tranche and pays it out.
func (e *Engine) ResolveMilestone(gigID [32]byte, index uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	gig, store, err := e.loadGig(gigID)
	if err != nil {
		return err
	}
	m, err := milestoneAt(gig, index)
	if err != nil {
		return err
	}
	if m.Status.Terminal() {
		return ErrAlreadySettled
	}
	if m.Status != MilestoneDisputed {
		return fmt.Errorf("%w: resolution requires a disputed tranche", ErrInvalidStatus)
	}
	arb, ok := e.arbitrators[gig.DisputeMode]
	if !ok {
		return fmt.Errorf("escrow: no arbitrator bound for mode %d", gig.DisputeMode)
	}
	resolution, done, err := arb.Resolution(m.CaseID)
	if err != nil {
		return err
	}
	if !done {
		return ErrResolutionPending
	}
	if !resolution.Valid() {
		return fmt.Errorf("escrow: arbitrator split does not cover full value")
	}
	if err := e.settleMilestone(store, gig, m, resolution.ClientBps, MilestoneReleased); err != nil {
		return err
	}
	e.emit(newGigEvent(EventTypeMilestoneResolved, gig, index, m, nil))
	return nil
}

// settleMilestone distributes one tranche exactly once: the client's share
// returns, the platform fee comes out of the worker's side, the worker gets
// the rest. Gig completion is derived once every tranche is terminal.
func (e *Engine) settleMilestone(store gigState, gig *Gig, m *Milestone, clientBps uint32, terminal MilestoneStatus) error {
	vault, err := e.state.EscrowVaultAddress()
	if err != nil {
		return err
	}
	clientShare := new(big.Int).Mul(m.Amount, new(big.Int).SetUint64(uint64(clientBps)))
	clientShare.Div(clientShare, big.NewInt(10_000))
	workerGross := new(big.Int).Sub(m.Amount, clientShare)
	fee := new(big.Int).Mul(workerGross, new(big.Int).SetUint64(uint64(e.policy.FeeBps)))
	fee.Div(fee, big.NewInt(10_000))
	workerNet := new(big.Int).Sub(workerGross, fee)

	if clientShare.Sign() > 0 {
		if err := e.assets.Transfer(vault, gig.Client, gig.Token, clientShare); err != nil {
			return err
		}
	}
	if workerNet.Sign() > 0 {
		if err := e.assets.Transfer(vault, gig.Worker, gig.Token, workerNet); err != nil {
			return err
		}
	}
	if fee.Sign() > 0 {
		if e.feeTreasury == ([20]byte{}) {
			return fmt.Errorf("escrow: fee treasury not configured")
		}
		if err := e.assets.Transfer(vault, e.feeTreasury, gig.Token, fee); err != nil {
			return err
		}
	}
	m.Status = terminal
	m.SettledAt = e.now()
	completed := true
	for _, tranche := range gig.Milestones {
		if !tranche.Status.Terminal() {
			completed = false
			break
		}
	}
	if completed {
		gig.Status = GigCompleted
	}
	return e.storeGig(store, gig)
}

// Gig returns a copy of the stored gig with all tranches.
func (e *Engine) Gig(gigID [32]byte) (*Gig, error) {
	gig, _, err := e.loadGig(gigID)
	if err != nil {
		return nil, err
	}
	return gig.Clone(), nil
}

// MilestoneAt returns a copy of a single tranche.
func (e *Engine) MilestoneAt(gigID [32]byte, index uint64) (*Milestone, error) {
	gig, _, err := e.loadGig(gigID)
	if err != nil {
		return nil, err
	}
	m, err := milestoneAt(gig, index)
	if err != nil {
		return nil, err
	}
	return m.Clone(), nil
}
