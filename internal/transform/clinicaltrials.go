// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package transform

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/xeradb/evidence-harvester/pkg/types"
)

// fromClinicalTrialsStudy maps a ClinicalTrials.gov v2 study onto the
// canonical schema. The full study JSON is carried through opaquely in Raw.
func fromClinicalTrialsStudy(data []byte) (Result, error) {
	var study clinicalTrialsStudy
	if err := json.Unmarshal(data, &study); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	proto := study.ProtocolSection
	nctID := proto.IdentificationModule.NCTID
	if nctID == "" {
		return Result{}, fmt.Errorf("%w: study has no NCT id", ErrMalformedRecord)
	}

	title := proto.IdentificationModule.BriefTitle
	if title == "" {
		title = proto.IdentificationModule.OfficialTitle
	}

	rec := &types.CanonicalRecord{
		ID:          nctID,
		Source:      "clinicaltrials",
		Year:        studyStartYear(proto.StatusModule),
		Title:       title,
		Abstract:    proto.DescriptionModule.BriefSummary,
		Venue:       proto.SponsorModule.LeadSponsor.Name,
		Identifiers: map[string]string{"nct": nctID},
		Raw:         json.RawMessage(data),
	}
	for _, cond := range proto.ConditionsModule.Conditions {
		if cond != "" {
			rec.Tags = append(rec.Tags, cond)
		}
	}

	return Result{Record: rec}, nil
}

// studyStartYear extracts the start year, falling back to the registry
// submission date when the study carries no start date.
func studyStartYear(status clinicalTrialsStatus) int {
	for _, date := range []string{status.StartDateStruct.Date, status.StudyFirstSubmitDate} {
		if len(date) >= 4 {
			if year, err := strconv.Atoi(date[:4]); err == nil {
				if y := normalizeYear(year); y != types.YearUnknown {
					return y
				}
			}
		}
	}
	return types.YearUnknown
}

// ClinicalTrials.gov study JSON structure (envelope fields only; the
// remainder rides along in Raw).
type clinicalTrialsStudy struct {
	ProtocolSection clinicalTrialsProtocol `json:"protocolSection"`
}

type clinicalTrialsProtocol struct {
	IdentificationModule clinicalTrialsIdentification `json:"identificationModule"`
	StatusModule         clinicalTrialsStatus         `json:"statusModule"`
	DescriptionModule    clinicalTrialsDescription    `json:"descriptionModule"`
	SponsorModule        clinicalTrialsSponsor        `json:"sponsorCollaboratorsModule"`
	ConditionsModule     clinicalTrialsConditions     `json:"conditionsModule"`
}

type clinicalTrialsIdentification struct {
	NCTID         string `json:"nctId"`
	BriefTitle    string `json:"briefTitle"`
	OfficialTitle string `json:"officialTitle"`
}

type clinicalTrialsStatus struct {
	StartDateStruct      clinicalTrialsDate `json:"startDateStruct"`
	StudyFirstSubmitDate string             `json:"studyFirstSubmitDate"`
}

type clinicalTrialsDate struct {
	Date string `json:"date"`
}

type clinicalTrialsDescription struct {
	BriefSummary string `json:"briefSummary"`
}

type clinicalTrialsSponsor struct {
	LeadSponsor clinicalTrialsLeadSponsor `json:"leadSponsor"`
}

type clinicalTrialsLeadSponsor struct {
	Name string `json:"name"`
}

type clinicalTrialsConditions struct {
	Conditions []string `json:"conditions"`
}
