package dedup

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/katsync_backend/utils"
	"github.com/xuri/excelize/v2"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// BuildAnalysisWorkbook renders duplicate groups into an XLSX workbook: one
// summary sheet plus a flat card listing.
func BuildAnalysisWorkbook(groups []DuplicateGroup) (*excelize.File, error) {
	f := excelize.NewFile()
	const sheet = "Sheet1"

	f.SetCellValue(sheet, "A1", "GroupKey")
	f.SetCellValue(sheet, "B1", "Type")
	f.SetCellValue(sheet, "C1", "CardId")
	f.SetCellValue(sheet, "D1", "Code")
	f.SetCellValue(sheet, "E1", "Name")
	f.SetCellValue(sheet, "F1", "Issues")

	row := 2
	for _, group := range groups {
		issuesByCard := make(map[int64]string)
		for _, issue := range group.Issues {
			if existing := issuesByCard[issue.CardId]; existing != "" {
				issuesByCard[issue.CardId] = existing + "; " + issue.Description
			} else {
				issuesByCard[issue.CardId] = issue.Description
			}
		}
		for _, card := range group.Cards {
			f.SetCellValue(sheet, "A"+fmt.Sprint(row), group.Key)
			f.SetCellValue(sheet, "B"+fmt.Sprint(row), string(group.Type))
			f.SetCellValue(sheet, "C"+fmt.Sprint(row), card.ID)
			f.SetCellValue(sheet, "D"+fmt.Sprint(row), card.Code)
			f.SetCellValue(sheet, "E"+fmt.Sprint(row), card.Name)
			f.SetCellValue(sheet, "F"+fmt.Sprint(row), issuesByCard[card.ID])
			row++
		}
	}
	return f, nil
}

// ExportAnalysis builds the workbook and uploads it to the reports bucket,
// returning the object path.
func (s *Service) ExportAnalysis(ctx context.Context, groups []DuplicateGroup) (string, error) {
	f, err := BuildAnalysisWorkbook(groups)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return "", err
	}

	objectName := fmt.Sprintf("dedup/analysis_%s.xlsx", time.Now().UTC().Format("20060102_150405"))
	return utils.UploadFileToGCS(ctx, objectName, &buf, xlsxContentType)
}
