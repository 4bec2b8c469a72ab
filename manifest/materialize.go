package manifest

import (
	"context"
	"fmt"

	"forge.design/mediaforge/eventlog"
	"forge.design/mediaforge/hashing"
)

// Materialize rebuilds the manifest for movieID as of revision by replaying
// the event log: input events collapse per canonical id (latest wins at or
// before revision), artefact events collapse per canonical id to the latest
// *succeeded* attempt at or before revision — the manifest only ever
// reflects succeeded outputs; failed and skipped attempts live
// only in the event log.
func Materialize(ctx context.Context, store eventlog.Store, movieID string, revision string) (Manifest, error) {
	inputEvents, err := store.LoadInputs(ctx, movieID, "")
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: loading inputs: %w", err)
	}
	artefactEvents, err := store.LoadArtefacts(ctx, movieID, "")
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: loading artefacts: %w", err)
	}

	inputs := make(map[string]InputEntry)
	for _, e := range inputEvents {
		if revision != "" && e.Revision > revision {
			continue
		}
		inputs[e.ID] = InputEntry{Hash: e.Hash, PayloadDigest: e.Hash, CreatedAt: e.CreatedAt}
	}

	artefacts := make(map[string]ArtefactEntry)
	for _, e := range artefactEvents {
		if revision != "" && e.Revision > revision {
			continue
		}
		if e.Status != eventlog.StatusSucceeded {
			continue
		}
		hash, err := ArtefactOutputHash(e)
		if err != nil {
			return Manifest{}, fmt.Errorf("manifest: hashing artefact %s: %w", e.ArtefactID, err)
		}
		artefacts[e.ArtefactID] = ArtefactEntry{Hash: hash, ProducedBy: e.ProducedBy, Status: e.Status, CreatedAt: e.CreatedAt}
	}

	return Manifest{
		Revision:  revision,
		Inputs:    inputs,
		Artefacts: artefacts,
	}, nil
}

// ArtefactOutputHash hashes the materialised output envelope recorded on an
// artefact event, whether it carries a typed hashing.ArtefactOutput or a
// raw value.
func ArtefactOutputHash(e eventlog.ArtefactEvent) (string, error) {
	output, ok := e.Output.(hashing.ArtefactOutput)
	if !ok {
		ph, err := hashing.HashPayload(e.Output)
		if err != nil {
			return "", err
		}
		return ph.Hash, nil
	}
	return hashing.HashArtefactOutput(output)
}
