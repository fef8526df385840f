package templates

// Defaults returns the templates seeded at startup.
func Defaults() []Template {
	return []Template{
		{
			Name:    "welcome_message",
			Type:    TypeWelcome,
			Subject: "Welcome to {{property_name}}!",
			Body: `Hi {{guest_name}},

Thank you for booking {{property_name}}! We look forward to hosting you from {{check_in_date}} to {{check_out_date}}.

A few details for your stay:
- Check-in is after 4:00 PM
- Check-out is before 11:00 AM
- The WiFi password will be waiting for you on arrival
- Address: {{property_address}}

If anything comes up before you arrive, just reply to this message.

See you soon!`,
			Variables: []string{"guest_name", "property_name", "check_in_date", "check_out_date", "property_address"},
			Active:    true,
		},
		{
			Name:    "checkin_instructions",
			Type:    TypeCheckinInstructions,
			Subject: "Check-in Instructions for {{property_name}}",
			Body: `Hi {{guest_name}},

Your check-in is coming up. Here is what you will need:

Address: {{property_address}}
Parking: {{parking_instructions}}

Getting in:
{{entry_instructions}}

WiFi network: {{wifi_network}}
WiFi password: {{wifi_password}}

The house manual on the kitchen counter covers appliances, local tips and emergency contacts. Check-in is after 4:00 PM.

Message us here any time during your stay.`,
			Variables: []string{"guest_name", "property_name", "property_address", "parking_instructions",
				"entry_instructions", "wifi_network", "wifi_password"},
			Active: true,
		},
		{
			Name:    "checkout_reminder",
			Type:    TypeCheckoutReminder,
			Subject: "Checkout Reminder - {{property_name}}",
			Body: `Good morning {{guest_name}},

A friendly reminder that checkout is today by 11:00 AM.

Before you go, please:
- Start the dishwasher
- Take the trash out to the bins
- Switch off lights and appliances
- Lock all doors and windows
- Leave the key {{key_return_instructions}}

We hope you enjoyed {{property_name}}. A review would mean a lot to us.

Safe travels!`,
			Variables: []string{"guest_name", "property_name", "key_return_instructions"},
			Active:    true,
		},
		{
			Name:    "review_request",
			Type:    TypeReviewRequest,
			Subject: "How was your stay at {{property_name}}?",
			Body: `Hi {{guest_name}},

We hope you made it home safely and enjoyed your time at {{property_name}}.

If you have a few minutes, a review helps future guests decide and helps us improve. If anything fell short, please tell us directly so we can fix it.

Thanks again for staying with us. We would love to welcome you back.`,
			Variables: []string{"guest_name", "property_name"},
			Active:    true,
		},
		{
			Name:    "house_rules_reminder",
			Type:    TypeHouseRules,
			Subject: "House Rules - {{property_name}}",
			Body: `Hi {{guest_name}},

To keep {{property_name}} great for everyone, please follow these house rules:

- No smoking indoors
- No parties or events
- Quiet hours from 10 PM to 8 AM
- Pets: {{pet_policy}}
- Maximum occupancy: {{max_guests}} guests
- Parking: {{parking_rules}}

Pool and hot tub:
{{pool_rules}}

Thank you for your cooperation!`,
			Variables: []string{"guest_name", "property_name", "pet_policy", "max_guests", "parking_rules", "pool_rules"},
			Active:    true,
		},
		{
			Name:    "local_recommendations",
			Type:    TypeLocalRecommendations,
			Subject: "Local Recommendations - {{property_name}}",
			Body: `Hi {{guest_name}},

Some of our favorite spots near {{property_name}}:

Restaurants:
{{restaurant_recommendations}}

Coffee and breakfast:
{{coffee_spots}}

Groceries:
{{grocery_stores}}

Things to do:
{{local_activities}}

Emergencies:
- Nearest hospital: {{hospital_info}}
- Urgent care: {{urgent_care_info}}
- Emergency services: 911

Enjoy your stay!`,
			Variables: []string{"guest_name", "property_name", "restaurant_recommendations", "coffee_spots",
				"grocery_stores", "local_activities", "hospital_info", "urgent_care_info"},
			Active: true,
		},
	}
}
