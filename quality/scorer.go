package quality

// Score converts record counts into a 0-100 score and grade. A table with no
// records scores 100.
func Score(totalRecords, validRecords int) (float64, Grade) {
	if totalRecords <= 0 {
		return 100.0, GradeA
	}
	score := float64(validRecords) / float64(totalRecords) * 100.0
	return score, GradeFor(score)
}

// GradeFor maps a score onto letter bands
func GradeFor(score float64) Grade {
	switch {
	case score >= 90:
		return GradeA
	case score >= 80:
		return GradeB
	case score >= 70:
		return GradeC
	case score >= 60:
		return GradeD
	default:
		return GradeF
	}
}

// Rollup averages per-table scores without weighting by record count.
// No tables scores 100.
func Rollup(companyID int, reports []QualityReport) CompanyQuality {
	out := CompanyQuality{
		CompanyID: companyID,
		Tables:    reports,
		Score:     100.0,
		Grade:     GradeA,
	}
	if len(reports) == 0 {
		return out
	}

	var sum float64
	for _, r := range reports {
		sum += r.Score
	}
	out.Score = sum / float64(len(reports))
	out.Grade = GradeFor(out.Score)
	return out
}
