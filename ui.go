package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"
	"github.com/rivo/tview"
)

// columns

type Column struct {
	name  string
	width int
}

var columns = []Column{
	{"Document", 32},
	{"Result", 8},
	{"Errors", 8},
	{"First error", 50},
	{"Time", 12},
}

// virtual table: https://github.com/rivo/tview/wiki/VirtualTable

type UIApp struct {
	tview.TableContentReadOnly
	app  *tview.Application
	data []DocumentResult
}

func newUIApp(results []DocumentResult) *UIApp {
	return &UIApp{
		TableContentReadOnly: tview.TableContentReadOnly{},
		app:                  tview.NewApplication(),
		data:                 results,
	}
}

func (uiApp *UIApp) GetCell(row int, col int) *tview.TableCell {
	entry := uiApp.data[row]
	switch col {
	case 0:
		paddedName := " " + truncate(entry.Name, columns[0].width-2)
		return tview.NewTableCell(alignLeft(paddedName, columns[0].width-1))
	case 1:
		if entry.OK {
			return tview.NewTableCell(alignLeft("PASS", columns[1].width-1)).SetTextColor(tcell.ColorGreen)
		}
		return tview.NewTableCell(alignLeft("FAIL", columns[1].width-1)).SetTextColor(tcell.ColorRed)
	case 2:
		return tview.NewTableCell(alignRight(strconv.Itoa(len(entry.Errors)), columns[2].width-2))
	case 3:
		var firstError string
		if len(entry.Errors) > 0 {
			firstError = truncate(entry.Errors[0], columns[3].width-1)
		}
		return tview.NewTableCell(alignLeft(" "+firstError, columns[3].width-1))
	default:
		return tview.NewTableCell(alignRight(entry.Duration.Round(time.Microsecond).String(), columns[4].width-2))
	}
}

func (uiApp *UIApp) GetRowCount() int {
	return len(uiApp.data)
}

func (uiApp *UIApp) GetColumnCount() int {
	return len(columns)
}

// load the UI

func loadUI(uiApp *UIApp, schemaName string, engine string) {
	headerRow := getHeaderRow()
	table := tview.NewTable().SetEvaluateAllRows(false)
	table.SetContent(uiApp)

	newTextView := func(text string, align int) tview.Primitive {
		return tview.NewTextView().
			SetTextAlign(align).
			SetText(text)
	}

	failed := 0
	for _, entry := range uiApp.data {
		if !entry.OK {
			failed++
		}
	}
	titleBar := fmt.Sprintf(" jsonlatch  |  Schema: %v  |  Engine: %v  |  Failed: %v/%v ", schemaName, engine, failed, len(uiApp.data))
	menuBar := " ▲ - Scroll Up  |  ▼ - Scroll Down  |  Q / ESC - Quit"
	grid := tview.NewGrid().
		SetRows(1, 1, 0, 1).
		SetColumns(0, 0, 0, 0).
		SetBorders(true).
		AddItem(newTextView(titleBar, tview.AlignLeft), 0, 0, 1, 4, 0, 0, false).
		AddItem(newTextView(headerRow, tview.AlignLeft), 1, 0, 1, 4, 0, 0, false).
		AddItem(table, 2, 0, 1, 4, 0, 0, true).
		AddItem(newTextView(menuBar, tview.AlignLeft), 3, 0, 1, 4, 0, 0, false)

	grid.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Rune() == 'q' || event.Key() == tcell.KeyEsc {
			uiApp.app.Stop()
		} else if event.Key() == tcell.KeyLeft || event.Key() == tcell.KeyRight {
			return nil
		}
		return event
	})

	if err := uiApp.app.SetRoot(grid, true).Run(); err != nil {
		log.SetOutput(os.Stdout)
		log.Println("Unable to load the UI:", err)
		os.Exit(exitFatal)
	}
}

func getHeaderRow() string {
	var headers string
	for i, col := range columns {
		var header string
		if i == 0 {
			header = " " + col.name
		} else {
			header = col.name
		}
		headers += alignLeft(header, col.width)
	}
	return headers
}

// truncate shortens text to width terminal cells, ending in an ellipsis.
func truncate(text string, width int) string {
	return runewidth.Truncate(text, width, "...")
}

func alignLeft(text string, len int) string {
	format := fmt.Sprintf("%%-%vs", len)
	return fmt.Sprintf(format, text)
}

func alignRight(text string, len int) string {
	format := fmt.Sprintf("%%%vs", len)
	return fmt.Sprintf(format, text)
}
