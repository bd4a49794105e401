package schema

// Canonical field names of the default schema.
const (
	FieldEventCategory    = "event_category"
	FieldEventDescription = "event_description"
	FieldOrganiser        = "organiser"
	FieldOrganiserDetail  = "organiser_detail"
	FieldParticipantCount = "participant_count"
	FieldEquipment        = "equipment"
	FieldCatering         = "catering"
	FieldNotes            = "notes"
	FieldVisitorType      = "visitor_type"
	FieldPurpose          = "purpose"
)

// DefaultVersion is the version of the built-in schema.
const DefaultVersion = 1

// Default returns the built-in lab booking schema: the German keys used in
// the booking calendar plus English aliases.
func Default() Schema {
	return Schema{
		Version: DefaultVersion,
		Fields: []Field{
			{
				Name:    FieldEventCategory,
				Aliases: []string{"Kategorie", "Category", "Event Category", "Event Type", "Veranstaltungstyp"},
				Kind:    KindString,
				Detail:  FieldEventDescription,
				Labels: []LabelRule{
					{Label: "Interne Veranstaltung", Match: []string{"interne veran", "ub intern"}},
					{Label: "Führung", Match: []string{"veranstaltung/führung"}},
					{Label: "Lehrveranstaltung", Match: []string{"seminar"}},
					{Label: "Workshop", Match: []string{"vr-einführung"}},
				},
			},
			{
				Name:    FieldEventDescription,
				Aliases: []string{"Beschreibung", "Event Description"},
				Kind:    KindString,
			},
			{
				Name:           FieldOrganiser,
				Aliases:        []string{"Veranstalter", "Organizer", "Host"},
				Kind:           KindString,
				Detail:         FieldOrganiserDetail,
				DetailFallback: true,
				Labels: []LabelRule{
					{Label: "UB", Match: []string{"ub"}},
					{Label: "Uni", Match: []string{"uni"}},
				},
			},
			{
				Name:    FieldOrganiserDetail,
				Aliases: []string{"Veranstalterdetail", "Organizer Detail", "Department"},
				Kind:    KindString,
				Labels: []LabelRule{
					{Label: "Institut für Sport", Match: []string{"sport"}},
					{Label: "Social Science", Match: []string{"sowi", "social science", "powi"}},
					{Label: "BWL", Match: []string{"ls bwl", "wirtschaftspädag", "sales services"}},
					{Label: "Jura", Match: []string{"fak jura", "rechtswissenschaft"}},
					{Label: "Wirtschaftsinformatik", Match: []string{"wirtschaftsinformatik"}},
					{Label: "Philosophische Fakultät", Match: []string{"philosophische", "phil fak", "philfak", "anglistik", "germanistik"}},
					{Label: "Stud.-Initiative X", Match: []string{"student group x"}},
					{Label: "Stud.-Initiative Y", Match: []string{"student group y"}},
					{Label: "Stud.-Initiative Z", Match: []string{"student group z"}},
					{Label: "Universitäts-IT", Match: []string{"uni it"}},
					{Label: "Universitätsbibliothek", Match: []string{"explab", "ub", "fdz"}},
					{Label: "Uni Verwaltung", Match: []string{"verwaltung"}},
					{Label: "Fachschaftsrat", Match: []string{"fsr", "fachschaftsr"}},
				},
			},
			{
				Name:    FieldParticipantCount,
				Aliases: []string{"Teilnehmer", "Teilnehmende", "Participants", "Participant Count", "Attendees", "Count", "Anzahl"},
				Kind:    KindInt,
				Range:   RangeUpper,
			},
			{
				Name:    FieldEquipment,
				Aliases: []string{"Technik", "Tools", "Ausstattung"},
				Kind:    KindList,
				Labels: []LabelRule{
					{Label: "VR", Match: []string{"vr", "virtual"}},
					{Label: "Eye Tracking", Match: []string{"eye", "tracking"}},
					{Label: "Clevertouch", Match: []string{"clever", "mobiler"}},
					{Label: "Präsentationsmonitor", Match: []string{"praesentations", "großer monitor", "präsentations"}},
					{Label: "Design Thinking", Match: []string{"dt", "design thinking", "thinking"}},
				},
			},
			{
				Name:    FieldCatering,
				Aliases: []string{"Verpflegung"},
				Kind:    KindBool,
			},
			{
				Name:    FieldNotes,
				Aliases: []string{"Anmerkung", "Anmerkungen", "Bemerkung", "Note", "Comment", "Kommentar"},
				Kind:    KindString,
			},
			{
				Name:    FieldVisitorType,
				Aliases: []string{"Visitor Type", "Visitor", "Besuchertyp", "Zielgruppe", "Audience"},
				Kind:    KindList,
			},
			{
				Name:    FieldPurpose,
				Aliases: []string{"Zweck", "Anlass"},
				Kind:    KindString,
			},
		},
	}
}
