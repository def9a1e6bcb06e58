package washer

import "git.home.luguber.info/inful/washer/internal/settings"

// Setting names shared by every stage type.
const (
	SettingTitle       = "title"
	SettingRetain      = "retain"
	SettingRetainFiles = "retainFiles"
	SettingFiles       = "files"
	SettingFilesURL    = "filesUrl"
	SettingSchedule    = "schedule"
	SettingSubscribe   = "subscribe"
	SettingFilter      = "filter"
)

// CommonSettings apply to every kind.
var CommonSettings = settings.Schema{
	{Name: SettingTitle, Description: "Display name", Parse: settings.String},
	{Name: SettingRetain, Description: "Days to keep items; 0 keeps forever, negative keeps nothing", Default: 0, Parse: settings.Int},
	{Name: SettingRetainFiles, Description: "Days to keep stored files; defaults to retain", Parse: settings.Int},
	{Name: SettingFiles, Description: "File store connection string override", Parse: settings.String},
	{Name: SettingFilesURL, Description: "Public base URL of the file store", Parse: settings.String},
}

// SourceSettings are the settings of every source stage.
var SourceSettings = CommonSettings.With(
	settings.Option{Name: SettingSchedule, Description: "Six-field cron expression", Required: true, Parse: settings.Cron},
)

// MaintenanceSettings are the settings of every maintenance stage.
var MaintenanceSettings = SourceSettings

// TransformSettings are the settings of every transform stage.
var TransformSettings = CommonSettings.With(
	settings.Option{Name: SettingSubscribe, Description: "Producer stage ids, or log", Required: true, Parse: settings.List},
	settings.Option{Name: SettingFilter, Description: "Filter applied to upstream items", Parse: settings.Filter, Transient: true},
	settings.Option{Name: SettingSchedule, Description: "Optional cron expression for catch-up polls", Parse: settings.Cron},
)

// SinkSettings are the settings of every sink stage.
var SinkSettings = TransformSettings

// KindSettings returns the base schema for kind.
func KindSettings(k Kind) settings.Schema {
	switch k {
	case KindSource:
		return SourceSettings
	case KindTransform:
		return TransformSettings
	case KindSink:
		return SinkSettings
	case KindMaintenance:
		return MaintenanceSettings
	}
	return CommonSettings
}
